package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isLocalOrigin(origin)
	},
}

// streamPositions serves live position updates for an event, as SSE by
// default or over a websocket when the client requests an upgrade. Access
// runs through the same visibility gate as the read endpoint.
func (a *API) streamPositions(w http.ResponseWriter, r *http.Request, eventID string) {
	if a.live == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	allowed, err := a.gate.CanView(r.Context(), eventID, userID)
	if err != nil {
		handleSharingError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "location layer not visible")
		return
	}

	if isWebSocket(r) {
		a.streamWebSocket(w, r, eventID)
		return
	}
	a.streamSSE(w, r, eventID)
}

func (a *API) streamSSE(w http.ResponseWriter, r *http.Request, eventID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.live.Subscribe(ctx, eventID)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for pos := range ch {
		payload, err := json.Marshal(pos)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func (a *API) streamWebSocket(w http.ResponseWriter, r *http.Request, eventID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.live.Subscribe(ctx, eventID)

	// Reader loop only to consume control frames and detect close.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case pos, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(pos)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func isWebSocket(r *http.Request) bool {
	contains := func(key, val string) bool {
		for _, v := range strings.Split(r.Header.Get(key), ",") {
			if val == strings.ToLower(strings.TrimSpace(v)) {
				return true
			}
		}
		return false
	}
	return contains("Connection", "upgrade") && contains("Upgrade", "websocket")
}
