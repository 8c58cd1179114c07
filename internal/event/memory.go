package event

import (
	"context"
	"sort"
	"sync"
	"time"

	"trainmeet.org/internal/ids"
	"trainmeet.org/internal/notify"
)

type participantKey struct{ eventID, userID string }

var _ Service = (*InMemory)(nil)

// InMemory implements Service with in-process concurrency safety. It backs
// tests and DSN-less development runs; production uses the Postgres store.
type InMemory struct {
	mu           sync.RWMutex
	events       map[string]*Event
	participants map[participantKey]*Participant
	invites      map[string]*Invitation

	notifier notify.Service
	now      func() time.Time
}

// InMemoryOption configures the in-memory service.
type InMemoryOption func(*InMemory)

// WithNotifier routes invitation notifications through the given service.
func WithNotifier(n notify.Service) InMemoryOption {
	return func(s *InMemory) { s.notifier = n }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) InMemoryOption {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewInMemory creates an empty coordination service.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	s := &InMemory{
		events:       make(map[string]*Event),
		participants: make(map[participantKey]*Participant),
		invites:      make(map[string]*Invitation),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) CreateEvent(ctx context.Context, hostID string, draft Draft) (Event, error) {
	if hostID == "" {
		return Event{}, ErrInvalidInput
	}
	if err := draft.Validate(); err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	ev := &Event{
		ID:                 ids.New(),
		Title:              draft.Title,
		Description:        draft.Description,
		Sport:              draft.Sport,
		HostID:             hostID,
		StartsAt:           draft.StartsAt.UTC(),
		EndsAt:             draft.EndsAt.UTC(),
		Address:            draft.Address,
		Latitude:           draft.Latitude,
		Longitude:          draft.Longitude,
		Capacity:           draft.Capacity,
		Type:               draft.Type,
		Status:             EventActive,
		RequireApproval:    draft.RequireApproval,
		GuestsCanInvite:    draft.GuestsCanInvite,
		LocationVisibility: draft.LocationVisibility,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.events[ev.ID] = ev

	// The host joins their own event as a confirmed participant.
	key := participantKey{ev.ID, hostID}
	s.participants[key] = &Participant{
		EventID:   ev.ID,
		UserID:    hostID,
		Status:    StatusGoing,
		Role:      RoleHost,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return *ev, nil
}

func (s *InMemory) GetEvent(ctx context.Context, id string) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return *ev, nil
}

func (s *InMemory) UpdateEvent(ctx context.Context, id, callerID string, draft Draft) (Event, error) {
	if err := draft.Validate(); err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	if ev.HostID != callerID {
		return Event{}, ErrForbidden
	}

	ev.Title = draft.Title
	ev.Description = draft.Description
	ev.Sport = draft.Sport
	ev.StartsAt = draft.StartsAt.UTC()
	ev.EndsAt = draft.EndsAt.UTC()
	ev.Address = draft.Address
	ev.Latitude = draft.Latitude
	ev.Longitude = draft.Longitude
	ev.Capacity = draft.Capacity
	ev.Type = draft.Type
	ev.RequireApproval = draft.RequireApproval
	ev.GuestsCanInvite = draft.GuestsCanInvite
	ev.LocationVisibility = draft.LocationVisibility
	ev.UpdatedAt = s.now().UTC()
	return *ev, nil
}

func (s *InMemory) DeleteEvent(ctx context.Context, id, callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return ErrNotFound
	}
	if ev.HostID != callerID {
		return ErrForbidden
	}
	delete(s.events, id)
	for key := range s.participants {
		if key.eventID == id {
			delete(s.participants, key)
		}
	}
	for inviteID, inv := range s.invites {
		if inv.EventID == id {
			delete(s.invites, inviteID)
		}
	}
	return nil
}

func (s *InMemory) ListUpcoming(ctx context.Context, after time.Time, limit int) ([]Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []Event
	for _, ev := range s.events {
		if ev.Type != TypePublic || ev.Status != EventActive {
			continue
		}
		if ev.StartsAt.Before(after) {
			continue
		}
		res = append(res, *ev)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartsAt.Before(res[j].StartsAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *InMemory) ListForUser(ctx context.Context, userID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	include := make(map[string]bool)
	for key := range s.participants {
		if key.userID == userID {
			include[key.eventID] = true
		}
	}
	for _, inv := range s.invites {
		if inv.ReceiverID == userID {
			include[inv.EventID] = true
		}
	}

	var res []Event
	for _, ev := range s.events {
		if ev.HostID == userID || include[ev.ID] {
			res = append(res, *ev)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartsAt.Before(res[j].StartsAt) })
	return res, nil
}

func (s *InMemory) SetPresence(ctx context.Context, eventID, userID string, status ParticipantStatus) (Participant, error) {
	if userID == "" || !ValidPresence(status) {
		return Participant{}, ErrInvalidInput
	}

	s.mu.Lock()
	if _, ok := s.events[eventID]; !ok {
		s.mu.Unlock()
		return Participant{}, ErrNotFound
	}

	now := s.now().UTC()
	key := participantKey{eventID, userID}
	p, ok := s.participants[key]
	if ok {
		p.Status = status
		p.UpdatedAt = now
	} else {
		p = &Participant{
			EventID:   eventID,
			UserID:    userID,
			Status:    status,
			Role:      RoleMember,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.participants[key] = p
	}
	result := *p

	// RSVP answers resolve any still-pending invitation for this user.
	var resolved *Invitation
	if status == StatusGoing || status == StatusDeclined {
		target := InviteAccepted
		if status == StatusDeclined {
			target = InviteDeclined
		}
		for _, inv := range s.invites {
			if inv.EventID == eventID && inv.ReceiverID == userID && inv.Status == InvitePending {
				inv.Status = target
				inv.UpdatedAt = now
				resolved = inv
				break
			}
		}
	}
	s.mu.Unlock()

	if resolved != nil && resolved.Status == InviteAccepted {
		s.notifyInviteAccepted(ctx, *resolved)
	}
	return result, nil
}

func (s *InMemory) GetParticipant(ctx context.Context, eventID, userID string) (Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantKey{eventID, userID}]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) ListParticipants(ctx context.Context, eventID string) ([]Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.events[eventID]; !ok {
		return nil, ErrNotFound
	}
	var res []Participant
	for key, p := range s.participants {
		if key.eventID == eventID {
			res = append(res, *p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (s *InMemory) CreateInvite(ctx context.Context, eventID, senderID, receiverID string) (Invitation, error) {
	if senderID == "" || receiverID == "" {
		return Invitation{}, ErrInvalidInput
	}
	if senderID == receiverID {
		return Invitation{}, ErrSelfInvite
	}

	s.mu.Lock()
	ev, ok := s.events[eventID]
	if !ok {
		s.mu.Unlock()
		return Invitation{}, ErrNotFound
	}

	isHost := ev.HostID == senderID
	senderP := s.participants[participantKey{eventID, senderID}]
	isGoing := senderP != nil && senderP.Status == StatusGoing
	if !isHost && (!ev.GuestsCanInvite || !isGoing) {
		s.mu.Unlock()
		return Invitation{}, ErrInviteNotAllowed
	}

	for _, inv := range s.invites {
		if inv.EventID == eventID && inv.ReceiverID == receiverID {
			s.mu.Unlock()
			return Invitation{}, ErrAlreadyInvited
		}
	}
	if p := s.participants[participantKey{eventID, receiverID}]; p != nil && p.Status != StatusCancelled {
		s.mu.Unlock()
		return Invitation{}, ErrAlreadyParticipating
	}

	now := s.now().UTC()
	inv := &Invitation{
		ID:         ids.New(),
		EventID:    eventID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     InvitePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.invites[inv.ID] = inv
	result := *inv
	title := ev.Title
	s.mu.Unlock()

	if s.notifier != nil {
		_, _ = s.notifier.Notify(ctx, notify.Notification{
			UserID:  receiverID,
			Kind:    notify.KindInviteReceived,
			Title:   "New Invitation",
			Body:    "You have been invited to " + title,
			LinkURL: "/events/" + eventID,
		})
	}
	return result, nil
}

func (s *InMemory) RespondInvite(ctx context.Context, inviteID, receiverID string, accept bool) (Invitation, error) {
	s.mu.Lock()
	inv, ok := s.invites[inviteID]
	if !ok || inv.ReceiverID != receiverID {
		s.mu.Unlock()
		return Invitation{}, ErrNotFound
	}

	now := s.now().UTC()
	if accept {
		inv.Status = InviteAccepted
	} else {
		inv.Status = InviteDeclined
	}
	inv.UpdatedAt = now

	if accept {
		key := participantKey{inv.EventID, receiverID}
		if p, ok := s.participants[key]; ok {
			p.Status = StatusGoing
			p.UpdatedAt = now
		} else {
			s.participants[key] = &Participant{
				EventID:   inv.EventID,
				UserID:    receiverID,
				Status:    StatusGoing,
				Role:      RoleMember,
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
	}
	result := *inv
	s.mu.Unlock()

	if accept {
		s.notifyInviteAccepted(ctx, result)
	}
	return result, nil
}

func (s *InMemory) notifyInviteAccepted(ctx context.Context, inv Invitation) {
	if s.notifier == nil {
		return
	}
	_, _ = s.notifier.Notify(ctx, notify.Notification{
		UserID:  inv.SenderID,
		Kind:    notify.KindInviteAccepted,
		Title:   "Invitation Accepted",
		Body:    "An athlete accepted your invite",
		LinkURL: "/events/" + inv.EventID,
	})
}
