package event

import (
	"errors"
	"strings"
	"time"
)

// Visibility controls who may see the live-location layer for an event.
type Visibility string

const (
	VisibilityConfirmedOnly Visibility = "CONFIRMED_ONLY"
	VisibilityAll           Visibility = "ALL"
	VisibilityNone          Visibility = "NONE"
)

// Type describes how an event can be discovered and joined.
type Type string

const (
	TypePublic  Type = "PUBLIC"
	TypePrivate Type = "PRIVATE"
	TypeGroup   Type = "GROUP"
)

// Status is the event lifecycle state.
type Status string

const (
	EventActive    Status = "ACTIVE"
	EventCancelled Status = "CANCELLED"
)

// ParticipantStatus is a user's RSVP state on an event.
type ParticipantStatus string

const (
	StatusGoing     ParticipantStatus = "GOING"
	StatusDeclined  ParticipantStatus = "DECLINED"
	StatusWaitlist  ParticipantStatus = "WAITLIST"
	StatusCancelled ParticipantStatus = "CANCELLED"
)

// Role distinguishes the host from regular members.
type Role string

const (
	RoleHost   Role = "HOST"
	RoleMember Role = "MEMBER"
)

// InviteStatus tracks the lifecycle of an invitation.
type InviteStatus string

const (
	InvitePending  InviteStatus = "PENDING"
	InviteAccepted InviteStatus = "ACCEPTED"
	InviteDeclined InviteStatus = "DECLINED"
)

// Event is a scheduled group-sports meeting.
type Event struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Sport              string     `json:"sport"`
	HostID             string     `json:"host_id"`
	StartsAt           time.Time  `json:"starts_at"`
	EndsAt             time.Time  `json:"ends_at"`
	Address            string     `json:"address,omitempty"`
	Latitude           *float64   `json:"latitude,omitempty"`
	Longitude          *float64   `json:"longitude,omitempty"`
	Capacity           int        `json:"capacity,omitempty"` // 0 means unlimited
	Type               Type       `json:"type"`
	Status             Status     `json:"status"`
	RequireApproval    bool       `json:"require_approval"`
	GuestsCanInvite    bool       `json:"guests_can_invite"`
	LocationVisibility Visibility `json:"location_visibility"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Participant is a user's membership record on an event, keyed by (event, user).
type Participant struct {
	EventID   string            `json:"event_id"`
	UserID    string            `json:"user_id"`
	Status    ParticipantStatus `json:"status"`
	Role      Role              `json:"role"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Active reports whether the participant counts as active for sharing
// purposes: confirmed attendance or hosting the event.
func (p Participant) Active() bool {
	return p.Status == StatusGoing || p.Role == RoleHost
}

// Invitation is a pending offer to join an event, keyed by (event, receiver).
type Invitation struct {
	ID         string       `json:"id"`
	EventID    string       `json:"event_id"`
	SenderID   string       `json:"sender_id"`
	ReceiverID string       `json:"receiver_id"`
	Status     InviteStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Draft carries validated input for creating or updating an event.
type Draft struct {
	Title              string
	Description        string
	Sport              string
	StartsAt           time.Time
	EndsAt             time.Time
	Address            string
	Latitude           *float64
	Longitude          *float64
	Capacity           int
	Type               Type
	RequireApproval    bool
	GuestsCanInvite    bool
	LocationVisibility Visibility
}

var (
	ErrNotFound             = errors.New("event: not found")
	ErrForbidden            = errors.New("event: forbidden")
	ErrInvalidInput         = errors.New("event: invalid input")
	ErrSelfInvite           = errors.New("event: cannot invite yourself")
	ErrAlreadyInvited       = errors.New("event: user already invited")
	ErrAlreadyParticipating = errors.New("event: user already participating")
	ErrInviteNotAllowed     = errors.New("event: not allowed to invite")
)

// Validate normalizes the draft in place and reports the first violation.
// Bounds follow the public input contract: title 3..100, description up to
// 1000, capacity strictly positive when set, start strictly before end.
func (d *Draft) Validate() error {
	d.Title = strings.TrimSpace(d.Title)
	d.Sport = strings.TrimSpace(d.Sport)
	d.Description = strings.TrimSpace(d.Description)
	d.Address = strings.TrimSpace(d.Address)

	if len(d.Title) < 3 || len(d.Title) > 100 {
		return ErrInvalidInput
	}
	if len(d.Description) > 1000 {
		return ErrInvalidInput
	}
	if d.Sport == "" {
		return ErrInvalidInput
	}
	if len(d.Address) > 255 {
		return ErrInvalidInput
	}
	if d.StartsAt.IsZero() || d.EndsAt.IsZero() || !d.StartsAt.Before(d.EndsAt) {
		return ErrInvalidInput
	}
	if d.Capacity < 0 {
		return ErrInvalidInput
	}
	if d.Latitude != nil && (*d.Latitude < -90 || *d.Latitude > 90) {
		return ErrInvalidInput
	}
	if d.Longitude != nil && (*d.Longitude < -180 || *d.Longitude > 180) {
		return ErrInvalidInput
	}
	switch d.Type {
	case "":
		d.Type = TypePublic
	case TypePublic, TypePrivate, TypeGroup:
	default:
		return ErrInvalidInput
	}
	switch d.LocationVisibility {
	case "":
		d.LocationVisibility = VisibilityConfirmedOnly
	case VisibilityConfirmedOnly, VisibilityAll, VisibilityNone:
	default:
		return ErrInvalidInput
	}
	return nil
}

// ValidPresence reports whether s is an accepted RSVP status.
func ValidPresence(s ParticipantStatus) bool {
	switch s {
	case StatusGoing, StatusDeclined, StatusWaitlist, StatusCancelled:
		return true
	}
	return false
}
