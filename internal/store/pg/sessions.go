package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trainmeet.org/internal/ids"
	"trainmeet.org/internal/sharing"
)

const sessionColumns = `id, event_id, user_id, enabled, started_at, ended_at`

func scanSession(row rowScanner) (sharing.Session, error) {
	var (
		sess  sharing.Session
		ended sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.EventID, &sess.UserID, &sess.Enabled, &sess.StartedAt, &ended)
	if err != nil {
		return sharing.Session{}, err
	}
	if ended.Valid {
		t := ended.Time.UTC()
		sess.EndedAt = &t
	}
	sess.StartedAt = sess.StartedAt.UTC()
	return sess, nil
}

// Enable creates the session row or re-opens an existing one. The conflict
// branch keeps started_at from the first opt-in.
func (s *Store) Enable(ctx context.Context, eventID, userID string, now time.Time) (sharing.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into location_sessions(id, event_id, user_id, enabled, started_at)
		values ($1, $2, $3, true, $4)
		on conflict (event_id, user_id) do update set enabled = true, ended_at = null
		returning `+sessionColumns+`
	`, ids.New(), eventID, userID, now.UTC())
	return scanSession(row)
}

// Disable closes the session. coalesce keeps the first end time when the
// session was already closed.
func (s *Store) Disable(ctx context.Context, eventID, userID string, now time.Time) (sharing.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		update location_sessions set enabled = false, ended_at = coalesce(ended_at, $3)
		where event_id = $1 and user_id = $2
		returning `+sessionColumns+`
	`, eventID, userID, now.UTC())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sharing.Session{}, sharing.ErrNotFound
	}
	if err != nil {
		return sharing.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (sharing.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+sessionColumns+` from location_sessions where id = $1
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sharing.Session{}, sharing.ErrNotFound
	}
	if err != nil {
		return sharing.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetByKey(ctx context.Context, eventID, userID string) (sharing.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+sessionColumns+` from location_sessions where event_id = $1 and user_id = $2
	`, eventID, userID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sharing.Session{}, sharing.ErrNotFound
	}
	if err != nil {
		return sharing.Session{}, err
	}
	return sess, nil
}

func (s *Store) Append(ctx context.Context, p sharing.Ping) (sharing.Ping, error) {
	p.ID = ids.New()
	_, err := s.db.ExecContext(ctx, `
		insert into location_pings(id, session_id, latitude, longitude, accuracy, ts)
		values ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.SessionID, p.Latitude, p.Longitude, nullFloat(p.Accuracy), p.Timestamp.UTC())
	if err != nil {
		return sharing.Ping{}, err
	}
	return p, nil
}

// Latest projects the newest ping of every open session of the event.
func (s *Store) Latest(ctx context.Context, eventID string) ([]sharing.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct on (p.session_id)
			s.event_id, s.user_id, p.session_id, p.latitude, p.longitude, p.accuracy, p.ts
		from location_pings p
		join location_sessions s on s.id = p.session_id
		where s.event_id = $1 and s.enabled and s.ended_at is null
		order by p.session_id, p.ts desc
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []sharing.Position
	for rows.Next() {
		var (
			pos sharing.Position
			acc sql.NullFloat64
		)
		if err := rows.Scan(&pos.EventID, &pos.UserID, &pos.SessionID,
			&pos.Latitude, &pos.Longitude, &acc, &pos.Timestamp); err != nil {
			return nil, err
		}
		if acc.Valid {
			v := acc.Float64
			pos.Accuracy = &v
		}
		pos.Timestamp = pos.Timestamp.UTC()
		res = append(res, pos)
	}
	return res, rows.Err()
}
