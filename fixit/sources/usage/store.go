// Package usage defines the per-user daily message counter and its
// in-memory implementation. SQL and Redis implementations live in sibling
// packages and satisfy the same Store interface.
//
// Days are UTC calendar days keyed as YYYY-MM-DD. The quota reset time shown
// to clients is derived from the same convention.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQuotaExceeded is returned by Reserve when no slot is left today.
	ErrQuotaExceeded = errors.New("usage: daily limit reached")

	// ErrStorage marks failures of the backing store. Callers must fail
	// closed on it.
	ErrStorage = errors.New("usage: storage failure")
)

// DayLayout is the format of day keys.
const DayLayout = "2006-01-02"

// DefaultReservationTTL bounds how long an in-flight slot counts against the
// limit when nobody commits or releases it. It must outlive the longest
// request plus its settle step.
const DefaultReservationTTL = 90 * time.Second

// Store counts successful messages per user and UTC day.
//
// Reserve/Commit/Rollback bracket an upstream call: Reserve atomically claims
// an in-flight slot only while message_count + reserved < limit, Commit turns
// the slot into a counted message and Rollback gives it back. Every Reserve
// pushes the row's reserved-until deadline one reservation TTL ahead; once it
// passes, leftover slots from crashed or restarted processes stop counting.
type Store interface {
	// UsageToday returns today's message count, 0 if there is no record.
	UsageToday(ctx context.Context, userID string) (int, error)

	// IncrementUsage atomically upserts today's record with count + 1.
	IncrementUsage(ctx context.Context, userID string) error

	// Reserve claims an in-flight slot or returns ErrQuotaExceeded.
	Reserve(ctx context.Context, userID string, limit int) (Reservation, error)

	// Commit records the reserved message on the reservation's day.
	Commit(ctx context.Context, res Reservation) error

	// Rollback releases a reservation without counting it.
	Rollback(ctx context.Context, res Reservation) error

	Ping(ctx context.Context) error
	Close() error
}

// Pruner is implemented by stores that can drop old records.
type Pruner interface {
	// Prune deletes records for days strictly before the given day.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Reservation is an admitted, not yet counted, message.
type Reservation struct {
	UserID string
	Day    string
}

// Record is one (user, day) counter row.
type Record struct {
	UserID        string
	Day           string
	MessageCount  int
	Reserved      int
	ReservedUntil time.Time
	LastMessageAt time.Time
}

// Clock returns the current time. Stores take one so tests can move days.
type Clock func() time.Time

// Day returns the UTC day key for t.
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// NextReset returns the next UTC midnight after t.
func NextReset(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

// StorageError wraps a backend failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("usage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// ActiveReserved is the number of slots still counting at now.
func (r Record) ActiveReserved(now time.Time) int {
	if !now.Before(r.ReservedUntil) {
		return 0
	}
	return r.Reserved
}

// Wrap returns nil for a nil err, otherwise a *StorageError.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
