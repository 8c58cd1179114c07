package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"trainmeet.org/internal/notify"
)

func draft(title string) Draft {
	return Draft{
		Title:           title,
		Sport:           "football",
		StartsAt:        time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		EndsAt:          time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		GuestsCanInvite: true,
	}
}

func TestCreateEventAddsHostAsGoing(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	ev, err := s.CreateEvent(ctx, "host", draft("Friday five-a-side"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ev.Status != EventActive || ev.Type != TypePublic || ev.LocationVisibility != VisibilityConfirmedOnly {
		t.Fatalf("defaults not applied: %+v", ev)
	}

	p, err := s.GetParticipant(ctx, ev.ID, "host")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if p.Role != RoleHost || p.Status != StatusGoing {
		t.Fatalf("host must join as GOING HOST, got %+v", p)
	}
}

func TestDraftValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	bad := []Draft{
		draft("ab"),                       // title too short
		{Title: "Valid title", Sport: ""}, // missing sport and times
	}
	d := draft("Good title")
	d.EndsAt = d.StartsAt // start must precede end
	bad = append(bad, d)

	d = draft("Good title")
	lat := 99.0
	d.Latitude = &lat
	bad = append(bad, d)

	d = draft("Good title")
	d.Type = "SECRET"
	bad = append(bad, d)

	for i, b := range bad {
		if _, err := s.CreateEvent(ctx, "host", b); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("draft %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestUpdateAndDeleteAreHostOnly(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	ev, _ := s.CreateEvent(ctx, "host", draft("Court booking"))

	if _, err := s.UpdateEvent(ctx, ev.ID, "intruder", draft("Hijacked")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := s.DeleteEvent(ctx, ev.ID, "intruder"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	updated, err := s.UpdateEvent(ctx, ev.ID, "host", draft("Court booking (moved)"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Court booking (moved)" {
		t.Fatalf("unexpected title: %s", updated.Title)
	}

	if err := s.DeleteEvent(ctx, ev.ID, "host"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetEvent(ctx, ev.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListUpcomingFiltersPublicFuture(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, _ = s.CreateEvent(ctx, "host", draft("Public future"))

	private := draft("Private future")
	private.Type = TypePrivate
	_, _ = s.CreateEvent(ctx, "host", private)

	past := draft("Public past")
	past.StartsAt = now.Add(-48 * time.Hour)
	past.EndsAt = now.Add(-47 * time.Hour)
	_, _ = s.CreateEvent(ctx, "host", past)

	events, err := s.ListUpcoming(ctx, now, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].Title != "Public future" {
		t.Fatalf("unexpected explore results: %+v", events)
	}
}

func TestListForUserIncludesHostedJoinedInvited(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	_, _ = s.CreateEvent(ctx, "alice", draft("Hosted by alice"))
	joined, _ := s.CreateEvent(ctx, "bob", draft("Joined by alice"))
	invited, _ := s.CreateEvent(ctx, "carol", draft("Alice invited"))
	_, _ = s.CreateEvent(ctx, "dave", draft("Unrelated"))

	if _, err := s.SetPresence(ctx, joined.ID, "alice", StatusWaitlist); err != nil {
		t.Fatalf("presence: %v", err)
	}
	if _, err := s.CreateInvite(ctx, invited.ID, "carol", "alice"); err != nil {
		t.Fatalf("invite: %v", err)
	}

	events, err := s.ListForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestPresenceResolvesPendingInvite(t *testing.T) {
	notifier := notify.NewInMemory()
	s := NewInMemory(WithNotifier(notifier))
	ctx := context.Background()

	ev, _ := s.CreateEvent(ctx, "host", draft("Sunday match"))
	inv, err := s.CreateInvite(ctx, ev.ID, "host", "alice")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	p, err := s.SetPresence(ctx, ev.ID, "alice", StatusGoing)
	if err != nil {
		t.Fatalf("presence: %v", err)
	}
	if p.Status != StatusGoing || p.Role != RoleMember {
		t.Fatalf("unexpected participant: %+v", p)
	}

	// The pending invite flips to ACCEPTED and the sender is notified.
	resp, err := s.RespondInvite(ctx, inv.ID, "alice", true)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resp.Status != InviteAccepted {
		t.Fatalf("expected accepted invite, got %s", resp.Status)
	}

	got, err := notifier.ListForUser(ctx, "host", false)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(got) == 0 || got[0].Kind != notify.KindInviteAccepted {
		t.Fatalf("expected invite-accepted notification, got %+v", got)
	}
}

func TestInviteRules(t *testing.T) {
	notifier := notify.NewInMemory()
	s := NewInMemory(WithNotifier(notifier))
	ctx := context.Background()
	ev, _ := s.CreateEvent(ctx, "host", draft("Climbing session"))

	if _, err := s.CreateInvite(ctx, ev.ID, "host", "host"); !errors.Is(err, ErrSelfInvite) {
		t.Fatalf("expected ErrSelfInvite, got %v", err)
	}
	if _, err := s.CreateInvite(ctx, "missing", "host", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.CreateInvite(ctx, ev.ID, "stranger", "alice"); !errors.Is(err, ErrInviteNotAllowed) {
		t.Fatalf("expected ErrInviteNotAllowed, got %v", err)
	}

	if _, err := s.CreateInvite(ctx, ev.ID, "host", "alice"); err != nil {
		t.Fatalf("host invite: %v", err)
	}
	if _, err := s.CreateInvite(ctx, ev.ID, "host", "alice"); !errors.Is(err, ErrAlreadyInvited) {
		t.Fatalf("expected ErrAlreadyInvited, got %v", err)
	}

	// A GOING guest may invite while guestsCanInvite holds.
	if _, err := s.SetPresence(ctx, ev.ID, "bob", StatusGoing); err != nil {
		t.Fatalf("presence: %v", err)
	}
	if _, err := s.CreateInvite(ctx, ev.ID, "bob", "carol"); err != nil {
		t.Fatalf("guest invite: %v", err)
	}
	if _, err := s.CreateInvite(ctx, ev.ID, "host", "bob"); !errors.Is(err, ErrAlreadyParticipating) {
		t.Fatalf("expected ErrAlreadyParticipating, got %v", err)
	}

	received, err := notifier.ListForUser(ctx, "alice", true)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(received) != 1 || received[0].Kind != notify.KindInviteReceived {
		t.Fatalf("expected invite notification, got %+v", received)
	}
}

func TestInviteLockedDownEvent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	d := draft("Invite-only drills")
	d.GuestsCanInvite = false
	ev, _ := s.CreateEvent(ctx, "host", d)

	if _, err := s.SetPresence(ctx, ev.ID, "bob", StatusGoing); err != nil {
		t.Fatalf("presence: %v", err)
	}
	if _, err := s.CreateInvite(ctx, ev.ID, "bob", "carol"); !errors.Is(err, ErrInviteNotAllowed) {
		t.Fatalf("expected ErrInviteNotAllowed, got %v", err)
	}
	if _, err := s.CreateInvite(ctx, ev.ID, "host", "carol"); err != nil {
		t.Fatalf("host can always invite: %v", err)
	}
}

func TestRespondInviteOwnership(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	ev, _ := s.CreateEvent(ctx, "host", draft("Track intervals"))
	inv, _ := s.CreateInvite(ctx, ev.ID, "host", "alice")

	if _, err := s.RespondInvite(ctx, inv.ID, "mallory", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong receiver, got %v", err)
	}

	declined, err := s.RespondInvite(ctx, inv.ID, "alice", false)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if declined.Status != InviteDeclined {
		t.Fatalf("expected declined, got %s", declined.Status)
	}
	if _, err := s.GetParticipant(ctx, ev.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("declining must not create a participant, got %v", err)
	}
}
