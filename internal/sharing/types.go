package sharing

import (
	"errors"
	"time"
)

// Session is the per-user, per-event toggle controlling whether position
// pings may be admitted. One session exists per (event, user) pair; it is
// never deleted, only disabled.
type Session struct {
	ID        string     `json:"id"`
	EventID   string     `json:"event_id"`
	UserID    string     `json:"user_id"`
	Enabled   bool       `json:"enabled"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the session currently accepts pings.
func (s Session) Active() bool {
	return s.Enabled && s.EndedAt == nil
}

// Ping is a single position sample. Immutable once created; the timestamp
// is assigned by the gate, never taken from the client.
type Ping struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"` // meters
	Timestamp time.Time `json:"timestamp"`
}

// Position is the read-side projection of the newest ping of an open
// session, annotated with its owner.
type Position struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Failure kinds surfaced by the gate. Unavailable is the only transient
// class; everything else is permanent for the given input.
var (
	ErrNotAuthorized   = errors.New("sharing: not authorized")
	ErrNotFound        = errors.New("sharing: not found")
	ErrForbidden       = errors.New("sharing: forbidden")
	ErrSessionInactive = errors.New("sharing: session inactive")
	ErrOutsideWindow   = errors.New("sharing: outside sharing window")
	ErrInvalidInput    = errors.New("sharing: invalid input")
	ErrUnavailable     = errors.New("sharing: store unavailable")
)

// SharingWindowLead is how long before the scheduled start pings are
// accepted. Sharing closes at the scheduled end.
const SharingWindowLead = 20 * time.Minute
