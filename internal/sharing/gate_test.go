package sharing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trainmeet.org/internal/event"
)

// fixture wires a gate against the in-memory coordination service with one
// event (08:00-09:00 UTC) hosted by "host".
type fixture struct {
	gate    *Gate
	events  *event.InMemory
	store   *InMemory
	eventID string
	now     time.Time
	clockMu sync.Mutex
}

var (
	eventStart = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	eventEnd   = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
)

func newFixture(t *testing.T, visibility event.Visibility) *fixture {
	t.Helper()

	f := &fixture{
		events: event.NewInMemory(),
		store:  NewInMemory(),
		now:    eventStart.Add(-10 * time.Minute),
	}
	f.gate = NewGate(f.events, f.events, f.store, f.store, WithClock(f.clock))

	ev, err := f.events.CreateEvent(context.Background(), "host", event.Draft{
		Title:              "Morning run",
		Sport:              "running",
		StartsAt:           eventStart,
		EndsAt:             eventEnd,
		GuestsCanInvite:    true,
		LocationVisibility: visibility,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	f.eventID = ev.ID
	return f
}

func (f *fixture) clock() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	f.now = t
}

func (f *fixture) join(t *testing.T, userID string, status event.ParticipantStatus) {
	t.Helper()
	if _, err := f.events.SetPresence(context.Background(), f.eventID, userID, status); err != nil {
		t.Fatalf("set presence %s: %v", userID, err)
	}
}

func (f *fixture) open(t *testing.T, userID string) Session {
	t.Helper()
	sess, err := f.gate.OpenSession(context.Background(), f.eventID, userID)
	if err != nil {
		t.Fatalf("open session for %s: %v", userID, err)
	}
	return sess
}

func TestOpenSessionRequiresGoingStatus(t *testing.T) {
	f := newFixture(t, event.VisibilityConfirmedOnly)
	ctx := context.Background()

	for _, status := range []event.ParticipantStatus{event.StatusDeclined, event.StatusWaitlist, event.StatusCancelled} {
		f.join(t, "alice", status)
		if _, err := f.gate.OpenSession(ctx, f.eventID, "alice"); !errors.Is(err, ErrNotAuthorized) {
			t.Fatalf("status %s: expected ErrNotAuthorized, got %v", status, err)
		}
	}

	if _, err := f.gate.OpenSession(ctx, f.eventID, "stranger"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-participant: expected ErrNotAuthorized, got %v", err)
	}

	f.join(t, "alice", event.StatusGoing)
	sess := f.open(t, "alice")
	if !sess.Enabled || sess.EndedAt != nil {
		t.Fatalf("expected open session, got %+v", sess)
	}
}

func TestOpenSessionUnknownEvent(t *testing.T) {
	f := newFixture(t, event.VisibilityConfirmedOnly)
	if _, err := f.gate.OpenSession(context.Background(), "missing", "host"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenSessionIdempotentAndPreservesStartedAt(t *testing.T) {
	f := newFixture(t, event.VisibilityConfirmedOnly)
	ctx := context.Background()
	f.join(t, "alice", event.StatusGoing)

	first := f.open(t, "alice")
	f.setNow(f.clock().Add(3 * time.Minute))
	second := f.open(t, "alice")

	if first.ID != second.ID {
		t.Fatalf("expected one session per key, got %s and %s", first.ID, second.ID)
	}
	if !second.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("re-open must not reset startedAt: %v != %v", second.StartedAt, first.StartedAt)
	}

	// close then re-open: back to enabled with endedAt cleared
	if _, err := f.gate.CloseSession(ctx, f.eventID, "alice"); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened := f.open(t, "alice")
	if !reopened.Enabled || reopened.EndedAt != nil {
		t.Fatalf("expected reopened session, got %+v", reopened)
	}
	if !reopened.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("reopen must preserve the original opt-in time")
	}
}

func TestCloseSessionIdempotent(t *testing.T) {
	f := newFixture(t, event.VisibilityConfirmedOnly)
	ctx := context.Background()

	if _, err := f.gate.CloseSession(ctx, f.eventID, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for absent session, got %v", err)
	}

	f.join(t, "alice", event.StatusGoing)
	f.open(t, "alice")

	closed, err := f.gate.CloseSession(ctx, f.eventID, "alice")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Enabled || closed.EndedAt == nil {
		t.Fatalf("expected closed session, got %+v", closed)
	}

	f.setNow(f.clock().Add(5 * time.Minute))
	again, err := f.gate.CloseSession(ctx, f.eventID, "alice")
	if err != nil {
		t.Fatalf("second close must succeed: %v", err)
	}
	if again.Enabled {
		t.Fatal("second close must keep the session disabled")
	}
	if !again.EndedAt.Equal(*closed.EndedAt) {
		t.Fatalf("second close must not move endedAt: %v != %v", again.EndedAt, closed.EndedAt)
	}
}

func TestAdmitPingChecksInOrder(t *testing.T) {
	f := newFixture(t, event.VisibilityConfirmedOnly)
	ctx := context.Background()
	f.join(t, "alice", event.StatusGoing)
	sess := f.open(t, "alice")

	if _, err := f.gate.AdmitPing(ctx, "missing", "alice", 0, 0, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Ownership trumps window and state: even outside the window, a spoofed
	// user id must surface as Forbidden.
	f.setNow(eventStart.Add(-2 * time.Hour))
	if _, err := f.gate.AdmitPing(ctx, sess.ID, "mallory", 0, 0, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	f.setNow(eventStart.Add(-10 * time.Minute))
	if _, err := f.gate.CloseSession(ctx, f.eventID, "alice"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := f.gate.AdmitPing(ctx, sess.ID, "alice", 0, 0, nil); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}

	f.open(t, "alice")
	bad := -1.0
	if _, err := f.gate.AdmitPing(ctx, sess.ID, "alice", 91, 0, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for latitude, got %v", err)
	}
	if _, err := f.gate.AdmitPing(ctx, sess.ID, "alice", 0, -181, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for longitude, got %v", err)
	}
	if _, err := f.gate.AdmitPing(ctx, sess.ID, "alice", 0, 0, &bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for accuracy, got %v", err)
	}
}

func TestAdmitPingWindowBounds(t *testing.T) {
	f := newFixture(t, event.VisibilityConfirmedOnly)
	ctx := context.Background()
	f.join(t, "alice", event.StatusGoing)
	f.setNow(eventStart.Add(-50 * time.Minute))
	sess := f.open(t, "alice") // opening is not window-gated

	cases := []struct {
		name    string
		now     time.Time
		allowed bool
	}{
		{"one second before window", eventStart.Add(-SharingWindowLead).Add(-time.Second), false},
		{"window start inclusive", eventStart.Add(-SharingWindowLead), true},
		{"mid event", eventStart.Add(30 * time.Minute), true},
		{"event end inclusive", eventEnd, true},
		{"one second after end", eventEnd.Add(time.Second), false},
	}
	for _, tc := range cases {
		f.setNow(tc.now)
		_, err := f.gate.AdmitPing(ctx, sess.ID, "alice", 48.85, 2.35, nil)
		if tc.allowed && err != nil {
			t.Fatalf("%s: expected admission, got %v", tc.name, err)
		}
		if !tc.allowed && !errors.Is(err, ErrOutsideWindow) {
			t.Fatalf("%s: expected ErrOutsideWindow, got %v", tc.name, err)
		}
	}
}

func TestAdmitPingStampsServerTime(t *testing.T) {
	f := newFixture(t, event.VisibilityConfirmedOnly)
	ctx := context.Background()
	f.join(t, "alice", event.StatusGoing)
	sess := f.open(t, "alice")

	at := eventStart.Add(15 * time.Minute)
	f.setNow(at)
	acc := 12.5
	ping, err := f.gate.AdmitPing(ctx, sess.ID, "alice", 48.85, 2.35, &acc)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !ping.Timestamp.Equal(at) {
		t.Fatalf("expected server-assigned timestamp %v, got %v", at, ping.Timestamp)
	}
	if ping.ID == "" || ping.SessionID != sess.ID {
		t.Fatalf("unexpected ping: %+v", ping)
	}
}

func TestSharingScenario(t *testing.T) {
	// Event 08:00-09:00Z. Open at 07:50 succeeds; 07:40:01 precedes the
	// window by one second... per the timeline below.
	f := newFixture(t, event.VisibilityConfirmedOnly)
	ctx := context.Background()
	f.join(t, "alice", event.StatusGoing)

	f.setNow(time.Date(2024, 6, 1, 7, 50, 0, 0, time.UTC))
	sess := f.open(t, "alice")

	steps := []struct {
		at    time.Time
		admit bool
	}{
		{time.Date(2024, 6, 1, 7, 39, 59, 0, time.UTC), false},
		{time.Date(2024, 6, 1, 7, 40, 0, 0, time.UTC), true},
		{time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC), true},
		{time.Date(2024, 6, 1, 9, 0, 1, 0, time.UTC), false},
	}
	for _, step := range steps {
		f.setNow(step.at)
		_, err := f.gate.AdmitPing(ctx, sess.ID, "alice", 40.0, -3.7, nil)
		if step.admit && err != nil {
			t.Fatalf("at %v: expected admission, got %v", step.at, err)
		}
		if !step.admit && !errors.Is(err, ErrOutsideWindow) {
			t.Fatalf("at %v: expected ErrOutsideWindow, got %v", step.at, err)
		}
	}
}

func TestCanViewPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("none blocks everyone including host", func(t *testing.T) {
		f := newFixture(t, event.VisibilityNone)
		f.join(t, "alice", event.StatusGoing)
		for _, viewer := range []string{"host", "alice", "stranger"} {
			ok, err := f.gate.CanView(ctx, f.eventID, viewer)
			if err != nil {
				t.Fatalf("CanView(%s): %v", viewer, err)
			}
			if ok {
				t.Fatalf("NONE must hide positions from %s", viewer)
			}
		}
	})

	for _, visibility := range []event.Visibility{event.VisibilityConfirmedOnly, event.VisibilityAll} {
		t.Run(string(visibility), func(t *testing.T) {
			f := newFixture(t, visibility)
			f.join(t, "alice", event.StatusGoing)
			f.join(t, "bob", event.StatusWaitlist)

			expect := map[string]bool{
				"host":     true,
				"alice":    true,
				"bob":      false,
				"stranger": false,
			}
			for viewer, want := range expect {
				ok, err := f.gate.CanView(ctx, f.eventID, viewer)
				if err != nil {
					t.Fatalf("CanView(%s): %v", viewer, err)
				}
				if ok != want {
					t.Fatalf("CanView(%s)=%v, want %v", viewer, ok, want)
				}
			}
		})
	}

	t.Run("unknown event", func(t *testing.T) {
		f := newFixture(t, event.VisibilityAll)
		if _, err := f.gate.CanView(ctx, "missing", "host"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPositionsGatedByCanView(t *testing.T) {
	f := newFixture(t, event.VisibilityConfirmedOnly)
	ctx := context.Background()
	f.join(t, "alice", event.StatusGoing)
	sess := f.open(t, "alice")

	f.setNow(eventStart.Add(5 * time.Minute))
	if _, err := f.gate.AdmitPing(ctx, sess.ID, "alice", 48.85, 2.35, nil); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := f.gate.AdmitPing(ctx, sess.ID, "alice", 48.86, 2.36, nil); err != nil {
		t.Fatalf("admit: %v", err)
	}

	if _, err := f.gate.Positions(ctx, f.eventID, "stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	positions, err := f.gate.Positions(ctx, f.eventID, "host")
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected one position per session, got %d", len(positions))
	}
	if positions[0].Latitude != 48.86 || positions[0].UserID != "alice" {
		t.Fatalf("expected the newest sample, got %+v", positions[0])
	}

	// Closing the session removes its position from the live layer.
	if _, err := f.gate.CloseSession(ctx, f.eventID, "alice"); err != nil {
		t.Fatalf("close: %v", err)
	}
	positions, err = f.gate.Positions(ctx, f.eventID, "host")
	if err != nil {
		t.Fatalf("positions after close: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected no positions after close, got %d", len(positions))
	}
}

func TestStatusReadsSessionByKey(t *testing.T) {
	f := newFixture(t, event.VisibilityConfirmedOnly)
	ctx := context.Background()

	if _, err := f.gate.Status(ctx, f.eventID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	f.join(t, "alice", event.StatusGoing)
	opened := f.open(t, "alice")
	got, err := f.gate.Status(ctx, f.eventID, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.ID != opened.ID || !got.Enabled {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestConcurrentOpenCloseSingleSession(t *testing.T) {
	f := newFixture(t, event.VisibilityConfirmedOnly)
	ctx := context.Background()
	f.join(t, "alice", event.StatusGoing)

	var wg sync.WaitGroup
	ids := make(chan string, 64)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				_, _ = f.gate.CloseSession(ctx, f.eventID, "alice")
				return
			}
			sess, err := f.gate.OpenSession(ctx, f.eventID, "alice")
			if err == nil {
				ids <- sess.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Fatalf("expected a single session for the key, got %d", len(seen))
	}
}
