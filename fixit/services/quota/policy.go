// Package quota decides whether a user may send another message today.
package quota

import (
	"context"
	"fixit/fixit/sources/usage"
	"time"
)

// ErrQuotaExceeded is the policy rejection. It is the same value the stores
// return so callers need a single errors.Is check.
var ErrQuotaExceeded = usage.ErrQuotaExceeded

// Snapshot is a fresh read of a user's standing for today.
type Snapshot struct {
	Used      int
	Remaining int
	Limit     int
	ResetTime time.Time
}

// Policy enforces one global daily limit against a usage.Store.
type Policy struct {
	store usage.Store
	limit int
	now   usage.Clock
}

// Option configures Policy.
type Option func(*Policy)

// WithClock overrides time.Now for reset-time calculation.
func WithClock(c usage.Clock) Option {
	return func(p *Policy) { p.now = c }
}

func NewPolicy(store usage.Store, dailyLimit int, opts ...Option) *Policy {
	p := &Policy{store: store, limit: dailyLimit, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Policy) DailyLimit() int { return p.limit }

// CanSend reports whether today's count is below the limit. No side effects.
func (p *Policy) CanSend(ctx context.Context, userID string) (bool, error) {
	used, err := p.store.UsageToday(ctx, userID)
	if err != nil {
		return false, err
	}
	return used < p.limit, nil
}

// Admit claims a slot for one message. The cheap read rejects exhausted
// users without a write; the store's atomic Reserve settles races between
// concurrent requests. Storage errors are returned as-is so the caller
// fails closed.
func (p *Policy) Admit(ctx context.Context, userID string) (usage.Reservation, error) {
	ok, err := p.CanSend(ctx, userID)
	if err != nil {
		return usage.Reservation{}, err
	}
	if !ok {
		return usage.Reservation{}, ErrQuotaExceeded
	}
	return p.store.Reserve(ctx, userID, p.limit)
}

// Commit turns an admitted slot into a counted message.
func (p *Policy) Commit(ctx context.Context, res usage.Reservation) error {
	return p.store.Commit(ctx, res)
}

// Release gives back an admitted slot without counting it.
func (p *Policy) Release(ctx context.Context, res usage.Reservation) error {
	return p.store.Rollback(ctx, res)
}

// Snapshot re-reads the store. Use it for every response body so numbers
// reflect concurrent requests that finished in between.
func (p *Policy) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	used, err := p.store.UsageToday(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return p.snapshot(used), nil
}

func (p *Policy) snapshot(used int) Snapshot {
	remaining := p.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		Used:      used,
		Remaining: remaining,
		Limit:     p.limit,
		ResetTime: p.NextReset(),
	}
}

// NextReset is the next UTC midnight, computed on every call.
func (p *Policy) NextReset() time.Time {
	return usage.NextReset(p.now())
}
