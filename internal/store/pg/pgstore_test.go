package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"trainmeet.org/internal/event"
	"trainmeet.org/internal/sharing"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestEnableCreatesAndReopens(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 6, 1, 7, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`insert into location_sessions`).
		WithArgs(sqlmock.AnyArg(), "evt-1", "user-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "user_id", "enabled", "started_at", "ended_at"}).
			AddRow("sess-1", "evt-1", "user-1", true, now, nil))

	sess, err := store.Enable(context.Background(), "evt-1", "user-1", now)
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if sess.ID != "sess-1" || !sess.Enabled || sess.EndedAt != nil {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDisableMissingSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`update location_sessions set enabled = false`).
		WithArgs("evt-1", "user-1", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Disable(context.Background(), "evt-1", "user-1", time.Now())
	if !errors.Is(err, sharing.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetByIDMapsNoRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select .* from location_sessions where id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetByID(context.Background(), "missing")
	if !errors.Is(err, sharing.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestProjectsOpenSessions(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2024, 6, 1, 8, 15, 0, 0, time.UTC)

	mock.ExpectQuery(`select distinct on \(p.session_id\)`).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "user_id", "session_id", "latitude", "longitude", "accuracy", "ts"}).
			AddRow("evt-1", "user-1", "sess-1", 52.52, 13.405, 8.5, ts).
			AddRow("evt-1", "user-2", "sess-2", 52.53, 13.41, nil, ts))

	positions, err := store.Latest(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	if positions[0].Accuracy == nil || *positions[0].Accuracy != 8.5 {
		t.Fatalf("expected accuracy 8.5, got %v", positions[0].Accuracy)
	}
	if positions[1].Accuracy != nil {
		t.Fatalf("expected nil accuracy, got %v", *positions[1].Accuracy)
	}
}

func TestCreateEventInsertsHostParticipant(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`insert into events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`insert into event_participants`).
		WithArgs(sqlmock.AnyArg(), "host-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ev, err := store.CreateEvent(context.Background(), "host-1", event.Draft{
		Title:    "Morning Run",
		Sport:    "running",
		StartsAt: start,
		EndsAt:   start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if ev.HostID != "host-1" || ev.Status != event.EventActive {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.LocationVisibility != event.VisibilityConfirmedOnly {
		t.Fatalf("expected default visibility, got %s", ev.LocationVisibility)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateEventRejectsInvalidDraft(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.CreateEvent(context.Background(), "host-1", event.Draft{Title: "x"})
	if !errors.Is(err, event.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateEventRequiresHost(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select host_id from events`).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"host_id"}).AddRow("host-1"))

	_, err := store.UpdateEvent(context.Background(), "evt-1", "stranger", event.Draft{
		Title:    "Morning Run",
		Sport:    "running",
		StartsAt: start,
		EndsAt:   start.Add(time.Hour),
	})
	if !errors.Is(err, event.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSetPresenceResolvesInvitation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`select 1 from events`).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`insert into event_participants`).
		WithArgs("evt-1", "user-1", event.StatusGoing).
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "user_id", "status", "role", "created_at", "updated_at"}).
			AddRow("evt-1", "user-1", "GOING", "MEMBER", now, now))
	mock.ExpectQuery(`update invitations set status`).
		WithArgs("evt-1", "user-1", event.InviteAccepted).
		WillReturnRows(sqlmock.NewRows([]string{"sender_id"}).AddRow("host-1"))
	mock.ExpectCommit()
	mock.ExpectExec(`insert into notifications`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	p, err := store.SetPresence(context.Background(), "evt-1", "user-1", event.StatusGoing)
	if err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	if p.Status != event.StatusGoing || p.Role != event.RoleMember {
		t.Fatalf("unexpected participant: %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateInviteGuestNotAllowed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select host_id, title, guests_can_invite from events`).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"host_id", "title", "guests_can_invite"}).
			AddRow("host-1", "Morning Run", false))
	mock.ExpectQuery(`select status from event_participants`).
		WithArgs("evt-1", "guest-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("GOING"))
	mock.ExpectRollback()

	_, err := store.CreateInvite(context.Background(), "evt-1", "guest-1", "friend-1")
	if !errors.Is(err, event.ErrInviteNotAllowed) {
		t.Fatalf("expected ErrInviteNotAllowed, got %v", err)
	}
}

func TestRespondInviteUnknownReceiver(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`update invitations set status`).
		WithArgs("inv-1", "other", event.InviteAccepted).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.RespondInvite(context.Background(), "inv-1", "other", true)
	if !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNotificationStoreMarkRead(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`update notifications set read = true`).
		WithArgs("ntf-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "kind", "title", "body", "link_url", "read", "created_at"}).
			AddRow("ntf-1", "user-1", "INVITE_RECEIVED", "New Invitation", "", "", true, now))

	n, err := store.Notifications().MarkRead(context.Background(), "ntf-1", "user-1")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !n.Read {
		t.Fatalf("expected read notification, got %+v", n)
	}
}
