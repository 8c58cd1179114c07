package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"trainmeet.org/internal/event"
	"trainmeet.org/internal/notify"
	"trainmeet.org/internal/sharing"
)

// Store implements the coordination service and the sharing gate's stores
// on PostgreSQL.
type Store struct {
	db       *sql.DB
	notifier notify.Service
}

var (
	_ event.Service        = (*Store)(nil)
	_ sharing.SessionStore = (*Store)(nil)
	_ sharing.PingStore    = (*Store)(nil)
)

// Open connects to PostgreSQL and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db), nil
}

// NewStore wraps an existing database handle (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store {
	s := &Store{db: db}
	s.notifier = &NotificationStore{db: db}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Notifications exposes the notification store backed by the same handle.
func (s *Store) Notifications() notify.Service { return s.notifier }
