package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trainmeet.org/internal/ids"
	"trainmeet.org/internal/notify"
)

// NotificationStore implements notify.Service on Postgres. It is a separate
// type so its ListForUser does not collide with the event listing on Store.
type NotificationStore struct {
	db *sql.DB
}

var _ notify.Service = (*NotificationStore)(nil)

func (s *NotificationStore) Notify(ctx context.Context, n notify.Notification) (notify.Notification, error) {
	if n.UserID == "" || n.Kind == "" || n.Title == "" {
		return notify.Notification{}, notify.ErrInvalidInput
	}
	n.ID = ids.New()
	n.Read = false
	n.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into notifications(id, user_id, kind, title, body, link_url, read, created_at)
		values ($1, $2, $3, $4, $5, $6, false, $7)
	`, n.ID, n.UserID, n.Kind, n.Title, n.Body, n.LinkURL, n.CreatedAt)
	if err != nil {
		return notify.Notification{}, err
	}
	return n, nil
}

func (s *NotificationStore) ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]notify.Notification, error) {
	q := `
		select id, user_id, kind, title, body, link_url, read, created_at
		from notifications where user_id = $1`
	if unreadOnly {
		q += ` and not read`
	}
	q += ` order by created_at desc limit 100`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []notify.Notification
	for rows.Next() {
		var n notify.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.LinkURL, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (s *NotificationStore) MarkRead(ctx context.Context, id, userID string) (notify.Notification, error) {
	var n notify.Notification
	err := s.db.QueryRowContext(ctx, `
		update notifications set read = true
		where id = $1 and user_id = $2
		returning id, user_id, kind, title, body, link_url, read, created_at
	`, id, userID).Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.LinkURL, &n.Read, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Notification{}, notify.ErrNotFound
	}
	if err != nil {
		return notify.Notification{}, err
	}
	return n, nil
}
