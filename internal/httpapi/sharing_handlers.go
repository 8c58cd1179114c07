package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"trainmeet.org/internal/audit"
	"trainmeet.org/internal/obs"
	"trainmeet.org/internal/sharing"
)

type sessionRequest struct {
	EventID string `json:"event_id"`
	Enabled bool   `json:"enabled"`
}

type pingRequest struct {
	SessionID string   `json:"session_id"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
}

// handleLocationSession toggles the caller's sharing session for an event.
// POST with enabled=true opens, enabled=false closes. GET returns the
// current session for ?event_id=.
func (a *API) handleLocationSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		eventID := strings.TrimSpace(r.URL.Query().Get("event_id"))
		if eventID == "" {
			writeError(w, r, http.StatusBadRequest, "event_id query parameter is required")
			return
		}
		sess, err := a.gate.Status(r.Context(), eventID, userID)
		if err != nil {
			handleSharingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case http.MethodPost:
		var req sessionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		eventID := strings.TrimSpace(req.EventID)
		if eventID == "" {
			writeError(w, r, http.StatusBadRequest, "event_id is required")
			return
		}

		var (
			sess sharing.Session
			err  error
		)
		if req.Enabled {
			sess, err = a.gate.OpenSession(r.Context(), eventID, userID)
		} else {
			sess, err = a.gate.CloseSession(r.Context(), eventID, userID)
		}
		if err != nil {
			handleSharingError(w, r, err)
			return
		}

		auditEvent := "sharing.session.open"
		if !req.Enabled {
			auditEvent = "sharing.session.close"
		}
		_ = audit.LogEvent(r.Context(), auditEvent, map[string]any{
			"event_id":   eventID,
			"session_id": sess.ID,
		})
		writeJSON(w, http.StatusOK, sess)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleLocationPing admits a position sample into the caller's session and
// fans it out to live viewers.
func (a *API) handleLocationPing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req pingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	ping, err := a.gate.AdmitPing(r.Context(), sessionID, userID, req.Latitude, req.Longitude, req.Accuracy)
	if err != nil {
		obs.PingRejected(rejectionReason(err))
		handleSharingError(w, r, err)
		return
	}
	obs.PingAdmitted()

	if a.live != nil {
		a.publishPing(r, sessionID, userID, ping)
	}

	writeJSON(w, http.StatusCreated, ping)
}

// publishPing resolves the ping's event and pushes the position to stream
// subscribers.
func (a *API) publishPing(r *http.Request, sessionID, userID string, ping sharing.Ping) {
	sess, err := a.gate.Session(r.Context(), sessionID)
	if err != nil {
		return
	}
	a.live.Publish(sharing.Position{
		EventID:   sess.EventID,
		UserID:    userID,
		SessionID: sessionID,
		Latitude:  ping.Latitude,
		Longitude: ping.Longitude,
		Accuracy:  ping.Accuracy,
		Timestamp: ping.Timestamp,
	})
}

// listPositions serves the latest position per open session, gated by the
// event's visibility policy.
func (a *API) listPositions(w http.ResponseWriter, r *http.Request, eventID string) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	positions, err := a.gate.Positions(r.Context(), eventID, userID)
	if err != nil {
		handleSharingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": positions})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, sharing.ErrNotFound):
		return "not_found"
	case errors.Is(err, sharing.ErrForbidden):
		return "forbidden"
	case errors.Is(err, sharing.ErrSessionInactive):
		return "session_inactive"
	case errors.Is(err, sharing.ErrOutsideWindow):
		return "outside_window"
	case errors.Is(err, sharing.ErrInvalidInput):
		return "invalid_input"
	default:
		return "unavailable"
	}
}

func handleSharingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sharing.ErrNotAuthorized),
		errors.Is(err, sharing.ErrForbidden),
		errors.Is(err, sharing.ErrSessionInactive),
		errors.Is(err, sharing.ErrOutsideWindow):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, sharing.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, sharing.ErrInvalidInput):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, sharing.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
