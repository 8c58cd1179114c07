package sharing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trainmeet.org/internal/event"
)

// EventSource reads event bounds and the visibility policy. Backed by the
// event service.
type EventSource interface {
	GetEvent(ctx context.Context, id string) (event.Event, error)
}

// ParticipantSource answers whether a user participates in an event and
// with what status and role. Must reflect the latest committed state.
type ParticipantSource interface {
	GetParticipant(ctx context.Context, eventID, userID string) (event.Participant, error)
}

// SessionStore persists sharing sessions keyed by (event, user).
type SessionStore interface {
	// Enable atomically creates or re-opens the session for the key. A new
	// session records startedAt; re-opening preserves the original one and
	// clears endedAt.
	Enable(ctx context.Context, eventID, userID string, now time.Time) (Session, error)
	// Disable closes the session, keeping the first close time on repeat
	// calls. Returns ErrNotFound when no session exists for the key.
	Disable(ctx context.Context, eventID, userID string, now time.Time) (Session, error)
	GetByID(ctx context.Context, id string) (Session, error)
	GetByKey(ctx context.Context, eventID, userID string) (Session, error)
}

// PingStore appends position samples and serves the latest position per
// open session of an event.
type PingStore interface {
	Append(ctx context.Context, p Ping) (Ping, error)
	Latest(ctx context.Context, eventID string) ([]Position, error)
}

// Gate enforces who may share live location for an event and when.
// All decisions happen before the single store write of each operation.
type Gate struct {
	events       EventSource
	participants ParticipantSource
	sessions     SessionStore
	pings        PingStore
	now          func() time.Time
}

// GateOption configures the gate.
type GateOption func(*Gate)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) GateOption {
	return func(g *Gate) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGate wires the gate to its collaborators.
func NewGate(events EventSource, participants ParticipantSource, sessions SessionStore, pings PingStore, opts ...GateOption) *Gate {
	g := &Gate{
		events:       events,
		participants: participants,
		sessions:     sessions,
		pings:        pings,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OpenSession enables sharing for (eventID, userID). Only participants with
// confirmed attendance may open a session. Re-opening a closed session is
// idempotent and keeps the original opt-in time.
func (g *Gate) OpenSession(ctx context.Context, eventID, userID string) (Session, error) {
	if eventID == "" || userID == "" {
		return Session{}, ErrInvalidInput
	}
	if _, err := g.events.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, event.ErrNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, unavailable(err)
	}

	p, err := g.participants.GetParticipant(ctx, eventID, userID)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			return Session{}, ErrNotAuthorized
		}
		return Session{}, unavailable(err)
	}
	if p.Status != event.StatusGoing {
		return Session{}, ErrNotAuthorized
	}

	sess, err := g.sessions.Enable(ctx, eventID, userID, g.now().UTC())
	if err != nil {
		return Session{}, unavailable(err)
	}
	return sess, nil
}

// CloseSession disables sharing for (eventID, userID). Closing an already
// closed session succeeds without changing its end time.
func (g *Gate) CloseSession(ctx context.Context, eventID, userID string) (Session, error) {
	if eventID == "" || userID == "" {
		return Session{}, ErrInvalidInput
	}
	sess, err := g.sessions.Disable(ctx, eventID, userID, g.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, unavailable(err)
	}
	return sess, nil
}

// AdmitPing validates and appends a position sample. Checks run in a fixed
// order so each failure surfaces as a distinct kind: session existence,
// ownership, session state, time window, then coordinates. The stored
// timestamp is the server clock, never client input.
func (g *Gate) AdmitPing(ctx context.Context, sessionID, claimedUserID string, lat, lng float64, accuracy *float64) (Ping, error) {
	sess, err := g.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Ping{}, ErrNotFound
		}
		return Ping{}, unavailable(err)
	}
	if sess.UserID != claimedUserID {
		return Ping{}, ErrForbidden
	}
	if !sess.Active() {
		return Ping{}, ErrSessionInactive
	}

	ev, err := g.events.GetEvent(ctx, sess.EventID)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			return Ping{}, ErrNotFound
		}
		return Ping{}, unavailable(err)
	}

	now := g.now().UTC()
	windowStart := ev.StartsAt.Add(-SharingWindowLead)
	if now.Before(windowStart) || now.After(ev.EndsAt) {
		return Ping{}, ErrOutsideWindow
	}

	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Ping{}, ErrInvalidInput
	}
	if accuracy != nil && *accuracy < 0 {
		return Ping{}, ErrInvalidInput
	}

	ping, err := g.pings.Append(ctx, Ping{
		SessionID: sessionID,
		Latitude:  lat,
		Longitude: lng,
		Accuracy:  accuracy,
		Timestamp: now,
	})
	if err != nil {
		return Ping{}, unavailable(err)
	}
	return ping, nil
}

// CanView reports whether the viewer may see the live-location layer. Pure
// predicate: no side effects and no dependence on the current time.
func (g *Gate) CanView(ctx context.Context, eventID, viewerID string) (bool, error) {
	ev, err := g.events.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, unavailable(err)
	}
	if ev.LocationVisibility == event.VisibilityNone {
		return false, nil
	}
	if ev.HostID == viewerID {
		return true, nil
	}

	// ALL is read as "all participants", not all authenticated users; a
	// viewer still needs confirmed attendance.
	p, err := g.participants.GetParticipant(ctx, eventID, viewerID)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			return false, nil
		}
		return false, unavailable(err)
	}
	return p.Status == event.StatusGoing || p.Role == event.RoleHost, nil
}

// Session returns the sharing session by id.
func (g *Gate) Session(ctx context.Context, id string) (Session, error) {
	sess, err := g.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, unavailable(err)
	}
	return sess, nil
}

// Status returns the sharing session for (eventID, userID), if any.
func (g *Gate) Status(ctx context.Context, eventID, userID string) (Session, error) {
	sess, err := g.sessions.GetByKey(ctx, eventID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, unavailable(err)
	}
	return sess, nil
}

// Positions returns the newest position of every open session of the event,
// gated by CanView.
func (g *Gate) Positions(ctx context.Context, eventID, viewerID string) ([]Position, error) {
	ok, err := g.CanView(ctx, eventID, viewerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	positions, err := g.pings.Latest(ctx, eventID)
	if err != nil {
		return nil, unavailable(err)
	}
	return positions, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
