package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trainmeet.org/internal/event"
	"trainmeet.org/internal/ids"
	"trainmeet.org/internal/notify"
)

const eventColumns = `id, title, description, sport, host_id, starts_at, ends_at,
	address, latitude, longitude, capacity, type, status,
	require_approval, guests_can_invite, location_visibility, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (event.Event, error) {
	var (
		ev       event.Event
		lat, lng sql.NullFloat64
	)
	err := row.Scan(
		&ev.ID, &ev.Title, &ev.Description, &ev.Sport, &ev.HostID,
		&ev.StartsAt, &ev.EndsAt, &ev.Address, &lat, &lng, &ev.Capacity,
		&ev.Type, &ev.Status, &ev.RequireApproval, &ev.GuestsCanInvite,
		&ev.LocationVisibility, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return event.Event{}, err
	}
	if lat.Valid {
		v := lat.Float64
		ev.Latitude = &v
	}
	if lng.Valid {
		v := lng.Float64
		ev.Longitude = &v
	}
	return ev, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func (s *Store) CreateEvent(ctx context.Context, hostID string, draft event.Draft) (event.Event, error) {
	if hostID == "" {
		return event.Event{}, event.ErrInvalidInput
	}
	if err := draft.Validate(); err != nil {
		return event.Event{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	id := ids.New()
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		insert into events(id, title, description, sport, host_id, starts_at, ends_at,
			address, latitude, longitude, capacity, type, status,
			require_approval, guests_can_invite, location_visibility)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,'ACTIVE',$13,$14,$15)
	`, id, draft.Title, draft.Description, draft.Sport, hostID,
		draft.StartsAt.UTC(), draft.EndsAt.UTC(), draft.Address,
		nullFloat(draft.Latitude), nullFloat(draft.Longitude), draft.Capacity,
		draft.Type, draft.RequireApproval, draft.GuestsCanInvite, draft.LocationVisibility,
	); err != nil {
		return event.Event{}, err
	}

	// The host joins their own event as a confirmed participant.
	if _, err := tx.ExecContext(ctx, `
		insert into event_participants(event_id, user_id, status, role)
		values ($1,$2,'GOING','HOST')
	`, id, hostID); err != nil {
		return event.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return event.Event{}, err
	}

	return event.Event{
		ID:                 id,
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
		Status:             event.EventActive,
		RequireApproval:    draft.RequireApproval,
		GuestsCanInvite:    draft.GuestsCanInvite,
		LocationVisibility: draft.LocationVisibility,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (event.Event, error) {
	row := s.db.QueryRowContext(ctx, `select `+eventColumns+` from events where id=$1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, event.ErrNotFound
	}
	if err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

func (s *Store) UpdateEvent(ctx context.Context, id, callerID string, draft event.Draft) (event.Event, error) {
	if err := draft.Validate(); err != nil {
		return event.Event{}, err
	}
	if err := s.requireHost(ctx, id, callerID); err != nil {
		return event.Event{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		update events set title=$2, description=$3, sport=$4, starts_at=$5, ends_at=$6,
			address=$7, latitude=$8, longitude=$9, capacity=$10, type=$11,
			require_approval=$12, guests_can_invite=$13, location_visibility=$14,
			updated_at=now()
		where id=$1
		returning `+eventColumns+`
	`, id, draft.Title, draft.Description, draft.Sport,
		draft.StartsAt.UTC(), draft.EndsAt.UTC(), draft.Address,
		nullFloat(draft.Latitude), nullFloat(draft.Longitude), draft.Capacity,
		draft.Type, draft.RequireApproval, draft.GuestsCanInvite, draft.LocationVisibility)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, event.ErrNotFound
	}
	if err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

func (s *Store) DeleteEvent(ctx context.Context, id, callerID string) error {
	if err := s.requireHost(ctx, id, callerID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `delete from events where id=$1`, id)
	return err
}

func (s *Store) requireHost(ctx context.Context, eventID, callerID string) error {
	var hostID string
	err := s.db.QueryRowContext(ctx, `select host_id from events where id=$1`, eventID).Scan(&hostID)
	if errors.Is(err, sql.ErrNoRows) {
		return event.ErrNotFound
	}
	if err != nil {
		return err
	}
	if hostID != callerID {
		return event.ErrForbidden
	}
	return nil
}

func (s *Store) ListUpcoming(ctx context.Context, after time.Time, limit int) ([]event.Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+eventColumns+` from events
		where type='PUBLIC' and status='ACTIVE' and starts_at >= $1
		order by starts_at asc
		limit $2
	`, after.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Store) ListForUser(ctx context.Context, userID string) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+eventColumns+` from events e
		where e.host_id = $1
		   or exists (select 1 from event_participants p where p.event_id=e.id and p.user_id=$1)
		   or exists (select 1 from invitations i where i.event_id=e.id and i.receiver_id=$1)
		order by starts_at asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]event.Event, error) {
	var res []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *Store) SetPresence(ctx context.Context, eventID, userID string, status event.ParticipantStatus) (event.Participant, error) {
	if userID == "" || !event.ValidPresence(status) {
		return event.Participant{}, event.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Participant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from events where id=$1`, eventID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event.Participant{}, event.ErrNotFound
		}
		return event.Participant{}, err
	}

	var p event.Participant
	if err := tx.QueryRowContext(ctx, `
		insert into event_participants(event_id, user_id, status, role)
		values ($1,$2,$3,'MEMBER')
		on conflict (event_id, user_id) do update set status=excluded.status, updated_at=now()
		returning event_id, user_id, status, role, created_at, updated_at
	`, eventID, userID, status).Scan(&p.EventID, &p.UserID, &p.Status, &p.Role, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return event.Participant{}, err
	}

	// RSVP answers resolve any still-pending invitation for this user.
	var senderID string
	notifyAccepted := false
	if status == event.StatusGoing || status == event.StatusDeclined {
		target := event.InviteAccepted
		if status == event.StatusDeclined {
			target = event.InviteDeclined
		}
		err := tx.QueryRowContext(ctx, `
			update invitations set status=$3, updated_at=now()
			where event_id=$1 and receiver_id=$2 and status='PENDING'
			returning sender_id
		`, eventID, userID, target).Scan(&senderID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return event.Participant{}, err
		}
		notifyAccepted = err == nil && target == event.InviteAccepted
	}

	if err := tx.Commit(); err != nil {
		return event.Participant{}, err
	}

	if notifyAccepted && s.notifier != nil {
		_, _ = s.notifier.Notify(ctx, notify.Notification{
			UserID:  senderID,
			Kind:    notify.KindInviteAccepted,
			Title:   "Invitation Accepted",
			Body:    "An athlete accepted your invite",
			LinkURL: "/events/" + eventID,
		})
	}
	return p, nil
}

func (s *Store) GetParticipant(ctx context.Context, eventID, userID string) (event.Participant, error) {
	var p event.Participant
	err := s.db.QueryRowContext(ctx, `
		select event_id, user_id, status, role, created_at, updated_at
		from event_participants where event_id=$1 and user_id=$2
	`, eventID, userID).Scan(&p.EventID, &p.UserID, &p.Status, &p.Role, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Participant{}, event.ErrNotFound
	}
	if err != nil {
		return event.Participant{}, err
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `select 1 from events where id=$1`, eventID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, event.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select event_id, user_id, status, role, created_at, updated_at
		from event_participants where event_id=$1
		order by created_at asc
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []event.Participant
	for rows.Next() {
		var p event.Participant
		if err := rows.Scan(&p.EventID, &p.UserID, &p.Status, &p.Role, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *Store) CreateInvite(ctx context.Context, eventID, senderID, receiverID string) (event.Invitation, error) {
	if senderID == "" || receiverID == "" {
		return event.Invitation{}, event.ErrInvalidInput
	}
	if senderID == receiverID {
		return event.Invitation{}, event.ErrSelfInvite
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Invitation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		hostID          string
		title           string
		guestsCanInvite bool
	)
	err = tx.QueryRowContext(ctx, `
		select host_id, title, guests_can_invite from events where id=$1
	`, eventID).Scan(&hostID, &title, &guestsCanInvite)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Invitation{}, event.ErrNotFound
	}
	if err != nil {
		return event.Invitation{}, err
	}

	if hostID != senderID {
		var senderStatus event.ParticipantStatus
		err := tx.QueryRowContext(ctx, `
			select status from event_participants where event_id=$1 and user_id=$2
		`, eventID, senderID).Scan(&senderStatus)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return event.Invitation{}, err
		}
		if !guestsCanInvite || err != nil || senderStatus != event.StatusGoing {
			return event.Invitation{}, event.ErrInviteNotAllowed
		}
	}

	var existing int
	err = tx.QueryRowContext(ctx, `
		select 1 from invitations where event_id=$1 and receiver_id=$2
	`, eventID, receiverID).Scan(&existing)
	if err == nil {
		return event.Invitation{}, event.ErrAlreadyInvited
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return event.Invitation{}, err
	}

	var receiverStatus event.ParticipantStatus
	err = tx.QueryRowContext(ctx, `
		select status from event_participants where event_id=$1 and user_id=$2
	`, eventID, receiverID).Scan(&receiverStatus)
	if err == nil && receiverStatus != event.StatusCancelled {
		return event.Invitation{}, event.ErrAlreadyParticipating
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return event.Invitation{}, err
	}

	inv := event.Invitation{
		ID:         ids.New(),
		EventID:    eventID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     event.InvitePending,
	}
	if err := tx.QueryRowContext(ctx, `
		insert into invitations(id, event_id, sender_id, receiver_id, status)
		values ($1,$2,$3,$4,'PENDING')
		returning created_at, updated_at
	`, inv.ID, eventID, senderID, receiverID).Scan(&inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return event.Invitation{}, err
	}
	if err := tx.Commit(); err != nil {
		return event.Invitation{}, err
	}

	if s.notifier != nil {
		_, _ = s.notifier.Notify(ctx, notify.Notification{
			UserID:  receiverID,
			Kind:    notify.KindInviteReceived,
			Title:   "New Invitation",
			Body:    "You have been invited to " + title,
			LinkURL: "/events/" + eventID,
		})
	}
	return inv, nil
}

func (s *Store) RespondInvite(ctx context.Context, inviteID, receiverID string, accept bool) (event.Invitation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Invitation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	target := event.InviteAccepted
	if !accept {
		target = event.InviteDeclined
	}

	var inv event.Invitation
	err = tx.QueryRowContext(ctx, `
		update invitations set status=$3, updated_at=now()
		where id=$1 and receiver_id=$2
		returning id, event_id, sender_id, receiver_id, status, created_at, updated_at
	`, inviteID, receiverID, target).Scan(
		&inv.ID, &inv.EventID, &inv.SenderID, &inv.ReceiverID, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Invitation{}, event.ErrNotFound
	}
	if err != nil {
		return event.Invitation{}, err
	}

	if accept {
		if _, err := tx.ExecContext(ctx, `
			insert into event_participants(event_id, user_id, status, role)
			values ($1,$2,'GOING','MEMBER')
			on conflict (event_id, user_id) do update set status='GOING', updated_at=now()
		`, inv.EventID, receiverID); err != nil {
			return event.Invitation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return event.Invitation{}, err
	}

	if accept && s.notifier != nil {
		_, _ = s.notifier.Notify(ctx, notify.Notification{
			UserID:  inv.SenderID,
			Kind:    notify.KindInviteAccepted,
			Title:   "Invitation Accepted",
			Body:    "An athlete accepted your invite",
			LinkURL: "/events/" + inv.EventID,
		})
	}
	return inv, nil
}
