package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trainmeet.org/internal/audit"
	"trainmeet.org/internal/event"
	"trainmeet.org/internal/ids"
	"trainmeet.org/internal/notify"
)

type eventRequest struct {
	Title              string           `json:"title"`
	Description        string           `json:"description"`
	Sport              string           `json:"sport"`
	StartsAt           time.Time        `json:"starts_at"`
	EndsAt             time.Time        `json:"ends_at"`
	Address            string           `json:"address"`
	Latitude           *float64         `json:"latitude"`
	Longitude          *float64         `json:"longitude"`
	Capacity           int              `json:"capacity"`
	Type               event.Type       `json:"type"`
	RequireApproval    bool             `json:"require_approval"`
	GuestsCanInvite    bool             `json:"guests_can_invite"`
	LocationVisibility event.Visibility `json:"location_visibility"`
}

func (req eventRequest) draft() event.Draft {
	return event.Draft{
		Title:              req.Title,
		Description:        req.Description,
		Sport:              req.Sport,
		StartsAt:           req.StartsAt,
		EndsAt:             req.EndsAt,
		Address:            req.Address,
		Latitude:           req.Latitude,
		Longitude:          req.Longitude,
		Capacity:           req.Capacity,
		Type:               req.Type,
		RequireApproval:    req.RequireApproval,
		GuestsCanInvite:    req.GuestsCanInvite,
		LocationVisibility: req.LocationVisibility,
	}
}

type presenceRequest struct {
	Status event.ParticipantStatus `json:"status"`
}

type inviteRequest struct {
	ReceiverID string `json:"receiver_id"`
}

type inviteResponseRequest struct {
	Accept bool `json:"accept"`
}

type listEventsResponse struct {
	Items []event.Event `json:"items"`
	AsOf  time.Time     `json:"as_of"`
}

func (a *API) handleEventsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listEvents(w, r)
	case http.MethodPost:
		a.createEvent(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleEventResource dispatches /v1/events/{id} and its sub-resources.
func (a *API) handleEventResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/events/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	if !ids.Valid(id) {
		writeError(w, r, http.StatusNotFound, "event not found")
		return
	}

	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			a.getEvent(w, r, id)
		case http.MethodPut:
			a.updateEvent(w, r, id)
		case http.MethodDelete:
			a.deleteEvent(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
	case "presence":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setPresence(w, r, id)
	case "participants":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listParticipants(w, r, id)
	case "invitations":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.createInvite(w, r, id)
	case "positions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listPositions(w, r, id)
	case "positions/stream":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.streamPositions(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var (
		items []event.Event
		err   error
	)
	if r.URL.Query().Get("mine") != "" {
		items, err = a.events.ListForUser(r.Context(), userID)
	} else {
		limit, perr := parsePositiveInt(r.URL.Query().Get("limit"), 50, 1, 200)
		if perr != nil {
			writeError(w, r, http.StatusBadRequest, perr.Error())
			return
		}
		items, err = a.events.ListUpcoming(r.Context(), time.Now().UTC(), limit)
	}
	if err != nil {
		handleEventError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) createEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := a.events.CreateEvent(r.Context(), userID, req.draft())
	if err != nil {
		handleEventError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "event.create", map[string]any{
		"event_id": ev.ID,
		"sport":    ev.Sport,
	})

	w.Header().Set("Location", "/v1/events/"+ev.ID)
	writeJSON(w, http.StatusCreated, ev)
}

func (a *API) getEvent(w http.ResponseWriter, r *http.Request, id string) {
	ev, err := a.events.GetEvent(r.Context(), id)
	if err != nil {
		handleEventError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (a *API) updateEvent(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := a.events.UpdateEvent(r.Context(), id, userID, req.draft())
	if err != nil {
		handleEventError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "event.update", map[string]any{"event_id": id})
	writeJSON(w, http.StatusOK, ev)
}

func (a *API) deleteEvent(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := a.events.DeleteEvent(r.Context(), id, userID); err != nil {
		handleEventError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "event.delete", map[string]any{"event_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setPresence(w http.ResponseWriter, r *http.Request, eventID string) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req presenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p, err := a.events.SetPresence(r.Context(), eventID, userID, req.Status)
	if err != nil {
		handleEventError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "event.presence.set", map[string]any{
		"event_id": eventID,
		"status":   string(p.Status),
	})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) listParticipants(w http.ResponseWriter, r *http.Request, eventID string) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	items, err := a.events.ListParticipants(r.Context(), eventID)
	if err != nil {
		handleEventError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) createInvite(w http.ResponseWriter, r *http.Request, eventID string) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	receiver := strings.TrimSpace(req.ReceiverID)
	if receiver == "" {
		writeError(w, r, http.StatusBadRequest, "receiver_id is required")
		return
	}

	inv, err := a.events.CreateInvite(r.Context(), eventID, userID, receiver)
	if err != nil {
		handleEventError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "event.invite.create", map[string]any{
		"event_id": eventID,
		"receiver": receiver,
	})
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) handleInvitationResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/invitations/")
	if id == "" || strings.Contains(id, "/") || !ids.Valid(id) {
		writeError(w, r, http.StatusNotFound, "invitation not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req inviteResponseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	inv, err := a.events.RespondInvite(r.Context(), id, userID, req.Accept)
	if err != nil {
		handleEventError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "event.invite.respond", map[string]any{
		"invitation_id": id,
		"accepted":      req.Accept,
	})
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) handleNotificationsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	unreadOnly := r.URL.Query().Get("unread") != ""
	items, err := a.notifications.ListForUser(r.Context(), userID, unreadOnly)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleNotificationResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/notifications/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" || rest != "read" || !ids.Valid(id) {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	n, err := a.notifications.MarkRead(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "notification not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit out of range")
	}
	return val, nil
}

func handleEventError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, event.ErrInvalidInput):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, event.ErrSelfInvite),
		errors.Is(err, event.ErrAlreadyInvited),
		errors.Is(err, event.ErrAlreadyParticipating):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, event.ErrForbidden), errors.Is(err, event.ErrInviteNotAllowed):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, event.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
