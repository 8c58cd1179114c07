package stream

import (
	"context"
	"sync"

	"trainmeet.org/internal/sharing"
)

// Stream fans admitted position pings out to live-map viewers (SSE and
// WebSocket clients). Subscriptions are scoped to a single event so a
// viewer only ever receives positions they were authorized to see.
type Stream struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan sharing.Position // event id -> subscriber set
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[string]map[int]chan sharing.Position)}
}

// Subscribe registers a viewer for an event's position updates. The channel
// is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, eventID string) <-chan sharing.Position {
	ch := make(chan sharing.Position, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	set, ok := s.subs[eventID]
	if !ok {
		set = make(map[int]chan sharing.Position)
		s.subs[eventID] = set
	}
	set[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if set, ok := s.subs[eventID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(s.subs, eventID)
			}
		}
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fans the position out to the event's subscribers.
func (s *Stream) Publish(pos sharing.Position) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs[pos.EventID] {
		select {
		case ch <- pos:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the number of active viewers for an event.
func (s *Stream) Subscribers(eventID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[eventID])
}
