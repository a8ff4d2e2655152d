package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in a map. It is process-local and meant for
// tests and single-instance development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]*Record
	now     Clock
	ttl     time.Duration
}

type recordKey struct {
	userID string
	day    string
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Pruner = (*MemoryStore)(nil)
)

// MemoryOption configures MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides time.Now.
func WithMemoryClock(c Clock) MemoryOption {
	return func(s *MemoryStore) { s.now = c }
}

// WithMemoryReservationTTL overrides DefaultReservationTTL.
func WithMemoryReservationTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[recordKey]*Record),
		now:     time.Now,
		ttl:     DefaultReservationTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) UsageToday(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey{userID, Day(s.now())}]
	if !ok {
		return 0, nil
	}
	return rec.MessageCount, nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.getOrCreate(userID, Day(now))
	rec.MessageCount++
	rec.LastMessageAt = now.UTC()
	return nil
}

func (s *MemoryStore) Reserve(_ context.Context, userID string, limit int) (Reservation, error) {
	if limit <= 0 {
		return Reservation{}, ErrQuotaExceeded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	day := Day(now)
	rec := s.getOrCreate(userID, day)
	active := rec.ActiveReserved(now)
	if rec.MessageCount+active >= limit {
		return Reservation{}, ErrQuotaExceeded
	}
	rec.Reserved = active + 1
	rec.ReservedUntil = now.Add(s.ttl)
	return Reservation{UserID: userID, Day: day}, nil
}

func (s *MemoryStore) Commit(_ context.Context, res Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreate(res.UserID, res.Day)
	if rec.Reserved > 0 {
		rec.Reserved--
	}
	rec.MessageCount++
	rec.LastMessageAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Rollback(_ context.Context, res Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey{res.UserID, res.Day}]
	if ok && rec.Reserved > 0 {
		rec.Reserved--
	}
	return nil
}

func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := Day(before)
	var n int64
	for k := range s.records {
		if k.day < cutoff {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// Record returns a copy of the stored row, for inspection.
func (s *MemoryStore) Record(userID, day string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey{userID, day}]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

func (s *MemoryStore) getOrCreate(userID, day string) *Record {
	k := recordKey{userID, day}
	rec, ok := s.records[k]
	if !ok {
		rec = &Record{UserID: userID, Day: day}
		s.records[k] = rec
	}
	return rec
}
