package sharing

import (
	"context"
	"sort"
	"sync"
	"time"

	"trainmeet.org/internal/ids"
)

type sessionKey struct{ eventID, userID string }

// InMemory implements SessionStore and PingStore with in-process
// concurrency safety. Enable/Disable hold the lock across read-and-write,
// giving the same atomic upsert-by-key guarantee the Postgres store gets
// from `insert ... on conflict`.
type InMemory struct {
	mu    sync.RWMutex
	byKey map[sessionKey]*Session
	byID  map[string]*Session
	pings map[string][]Ping // session id -> samples in admission order
}

var (
	_ SessionStore = (*InMemory)(nil)
	_ PingStore    = (*InMemory)(nil)
)

// NewInMemory creates an empty sharing store.
func NewInMemory() *InMemory {
	return &InMemory{
		byKey: make(map[sessionKey]*Session),
		byID:  make(map[string]*Session),
		pings: make(map[string][]Ping),
	}
}

func (s *InMemory) Enable(ctx context.Context, eventID, userID string, now time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{eventID, userID}
	sess, ok := s.byKey[key]
	if !ok {
		sess = &Session{
			ID:        ids.New(),
			EventID:   eventID,
			UserID:    userID,
			Enabled:   true,
			StartedAt: now,
		}
		s.byKey[key] = sess
		s.byID[sess.ID] = sess
		return *sess, nil
	}
	sess.Enabled = true
	sess.EndedAt = nil
	return *sess, nil
}

func (s *InMemory) Disable(ctx context.Context, eventID, userID string, now time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byKey[sessionKey{eventID, userID}]
	if !ok {
		return Session{}, ErrNotFound
	}
	if sess.Enabled {
		sess.Enabled = false
		endedAt := now
		sess.EndedAt = &endedAt
	}
	return *sess, nil
}

func (s *InMemory) GetByID(ctx context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *sess, nil
}

func (s *InMemory) GetByKey(ctx context.Context, eventID, userID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byKey[sessionKey{eventID, userID}]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *sess, nil
}

func (s *InMemory) Append(ctx context.Context, p Ping) (Ping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[p.SessionID]; !ok {
		return Ping{}, ErrNotFound
	}
	p.ID = ids.New()
	s.pings[p.SessionID] = append(s.pings[p.SessionID], p)
	return p, nil
}

func (s *InMemory) Latest(ctx context.Context, eventID string) ([]Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []Position
	for _, sess := range s.byID {
		if sess.EventID != eventID || !sess.Active() {
			continue
		}
		samples := s.pings[sess.ID]
		if len(samples) == 0 {
			continue
		}
		last := samples[len(samples)-1]
		res = append(res, Position{
			EventID:   eventID,
			UserID:    sess.UserID,
			SessionID: sess.ID,
			Latitude:  last.Latitude,
			Longitude: last.Longitude,
			Accuracy:  last.Accuracy,
			Timestamp: last.Timestamp,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}
