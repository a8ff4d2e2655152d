// Package sqlite is the embedded usage.Store, backed by a single SQLite file
// through the pure-Go modernc driver. It suits single-node and edge
// deployments where running Postgres is not worth it.
package sqlite

import (
	"context"
	"database/sql"
	"fixit/fixit/sources/usage"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_tracking (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    date            TEXT NOT NULL,
    message_count   INTEGER NOT NULL DEFAULT 0,
    reserved_count  INTEGER NOT NULL DEFAULT 0,
    reserved_until  INTEGER NOT NULL DEFAULT 0,
    last_message_at TEXT,
    UNIQUE (user_id, date)
);
CREATE INDEX IF NOT EXISTS idx_usage_tracking_date ON usage_tracking(date);
`

// Store provides SQLite-backed storage for usage counters.
type Store struct {
	db  *sql.DB
	now usage.Clock
	ttl time.Duration
}

var (
	_ usage.Store  = (*Store)(nil)
	_ usage.Pruner = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(c usage.Clock) Option {
	return func(s *Store) { s.now = c }
}

// WithReservationTTL overrides usage.DefaultReservationTTL.
func WithReservationTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// OpenStore opens (or creates) the usage database at dbPath and runs migrations.
func OpenStore(dbPath string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create usage db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// One writer connection serialises statements, so SQLITE_BUSY never
	// surfaces under concurrent requests.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := addReservedUntil(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{db: db, now: time.Now, ttl: usage.DefaultReservationTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// addReservedUntil upgrades files created before reservations expired.
func addReservedUntil(db *sql.DB) error {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('usage_tracking') WHERE name = 'reserved_until'`,
	).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(`ALTER TABLE usage_tracking ADD COLUMN reserved_until INTEGER NOT NULL DEFAULT 0`)
	return err
}

func (s *Store) UsageToday(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT message_count FROM usage_tracking WHERE user_id = ? AND date = ?`,
		userID, usage.Day(s.now()),
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, usage.Wrap("usage today", err)
	}
	return count, nil
}

func (s *Store) IncrementUsage(ctx context.Context, userID string) error {
	now := s.now().UTC()
	return usage.Wrap("increment", s.incrementOn(ctx, userID, usage.Day(now), now))
}

func (s *Store) incrementOn(ctx context.Context, userID, day string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_tracking (id, user_id, date, message_count, reserved_count, last_message_at)
		VALUES (?, ?, ?, 1, 0, ?)
		ON CONFLICT (user_id, date) DO UPDATE
		SET message_count = message_count + 1, last_message_at = excluded.last_message_at`,
		uuid.NewString(), userID, day, now.Format(time.RFC3339),
	)
	return err
}

func (s *Store) Reserve(ctx context.Context, userID string, limit int) (usage.Reservation, error) {
	if limit <= 0 {
		return usage.Reservation{}, usage.ErrQuotaExceeded
	}
	now := s.now()
	day := usage.Day(now)
	nowMs, untilMs := now.UnixMilli(), now.Add(s.ttl).UnixMilli()

	// Slots whose deadline has passed are dropped before the limit check.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_tracking (id, user_id, date, message_count, reserved_count, reserved_until)
		VALUES (?, ?, ?, 0, 1, ?)
		ON CONFLICT (user_id, date) DO UPDATE
		SET reserved_count = CASE WHEN reserved_until > ? THEN reserved_count ELSE 0 END + 1,
		    reserved_until = excluded.reserved_until
		WHERE message_count + CASE WHEN reserved_until > ? THEN reserved_count ELSE 0 END < ?`,
		uuid.NewString(), userID, day, untilMs, nowMs, nowMs, limit,
	)
	if err != nil {
		return usage.Reservation{}, usage.Wrap("reserve", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return usage.Reservation{}, usage.Wrap("reserve", err)
	}
	if n == 0 {
		return usage.Reservation{}, usage.ErrQuotaExceeded
	}
	return usage.Reservation{UserID: userID, Day: day}, nil
}

func (s *Store) Commit(ctx context.Context, r usage.Reservation) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE usage_tracking
		SET message_count = message_count + 1,
		    reserved_count = MAX(reserved_count - 1, 0),
		    last_message_at = ?
		WHERE user_id = ? AND date = ?`,
		now.Format(time.RFC3339), r.UserID, r.Day,
	)
	if err != nil {
		return usage.Wrap("commit", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return usage.Wrap("commit", s.incrementOn(ctx, r.UserID, r.Day, now))
	}
	return nil
}

func (s *Store) Rollback(ctx context.Context, r usage.Reservation) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE usage_tracking SET reserved_count = MAX(reserved_count - 1, 0) WHERE user_id = ? AND date = ?`,
		r.UserID, r.Day,
	)
	return usage.Wrap("rollback", err)
}

// Prune deletes counters for days before the given time's day.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_tracking WHERE date < ?`, usage.Day(before))
	if err != nil {
		return 0, usage.Wrap("prune", err)
	}
	return res.RowsAffected()
}

// Record returns the stored row for (userID, day).
func (s *Store) Record(ctx context.Context, userID, day string) (usage.Record, bool, error) {
	rec := usage.Record{UserID: userID, Day: day}
	var last sql.NullString
	var untilMs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT message_count, reserved_count, reserved_until, last_message_at FROM usage_tracking WHERE user_id = ? AND date = ?`,
		userID, day,
	).Scan(&rec.MessageCount, &rec.Reserved, &untilMs, &last)
	if err == sql.ErrNoRows {
		return usage.Record{}, false, nil
	}
	if err != nil {
		return usage.Record{}, false, usage.Wrap("record", err)
	}
	if untilMs > 0 {
		rec.ReservedUntil = time.UnixMilli(untilMs).UTC()
	}
	if last.Valid {
		if t, err := time.Parse(time.RFC3339, last.String); err == nil {
			rec.LastMessageAt = t
		}
	}
	return rec, true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return usage.Wrap("ping", s.db.PingContext(ctx))
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
