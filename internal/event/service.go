package event

import (
	"context"
	"time"
)

// Service defines event coordination operations: event CRUD, RSVP presence
// and invitations. Implementations back onto the relational store or run
// fully in memory.
type Service interface {
	CreateEvent(ctx context.Context, hostID string, draft Draft) (Event, error)
	GetEvent(ctx context.Context, id string) (Event, error)
	UpdateEvent(ctx context.Context, id, callerID string, draft Draft) (Event, error)
	DeleteEvent(ctx context.Context, id, callerID string) error
	ListUpcoming(ctx context.Context, after time.Time, limit int) ([]Event, error)
	ListForUser(ctx context.Context, userID string) ([]Event, error)

	SetPresence(ctx context.Context, eventID, userID string, status ParticipantStatus) (Participant, error)
	GetParticipant(ctx context.Context, eventID, userID string) (Participant, error)
	ListParticipants(ctx context.Context, eventID string) ([]Participant, error)

	CreateInvite(ctx context.Context, eventID, senderID, receiverID string) (Invitation, error)
	RespondInvite(ctx context.Context, inviteID, receiverID string, accept bool) (Invitation, error)
}
