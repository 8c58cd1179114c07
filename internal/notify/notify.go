package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"trainmeet.org/internal/ids"
)

// Notification kinds emitted by the coordination services.
const (
	KindInviteReceived = "INVITE_RECEIVED"
	KindInviteAccepted = "INVITE_ACCEPTED"
)

var (
	ErrNotFound     = errors.New("notify: not found")
	ErrInvalidInput = errors.New("notify: invalid input")
)

// Notification is a user-facing message linked to an application resource.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	LinkURL   string    `json:"link_url,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Service defines notification operations.
type Service interface {
	Notify(ctx context.Context, n Notification) (Notification, error)
	ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error)
	MarkRead(ctx context.Context, id, userID string) (Notification, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]*Notification
}

// NewInMemory creates an empty notification store.
func NewInMemory() *InMemory {
	return &InMemory{items: make(map[string]*Notification)}
}

func (s *InMemory) Notify(ctx context.Context, n Notification) (Notification, error) {
	if n.UserID == "" || n.Kind == "" || n.Title == "" {
		return Notification{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = ids.New()
	n.Read = false
	n.CreatedAt = time.Now().UTC()
	stored := n
	s.items[n.ID] = &stored
	return n, nil
}

func (s *InMemory) ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []Notification
	for _, n := range s.items {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		res = append(res, *n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *InMemory) MarkRead(ctx context.Context, id, userID string) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[id]
	if !ok || n.UserID != userID {
		return Notification{}, ErrNotFound
	}
	n.Read = true
	return *n, nil
}
