// Package redis provides a Redis-backed usage.Store.
//
// Each (user, day) counter is a hash with count, reserved, reserved_until
// and last_message_at fields. Reserve/Commit/Rollback run as Lua scripts so the
// check and the increment happen atomically on the server, which keeps
// multi-instance deployments from over-admitting. Keys expire after the
// retention window instead of being pruned.
package redis

import (
	"context"
	"errors"
	"fixit/fixit/sources/usage"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL keeps yesterday's counters around for inspection.
const DefaultTTL = 48 * time.Hour

// Store is a Redis-backed usage.Store.
type Store struct {
	client    *goredis.Client
	keyPrefix string
	ttl       time.Duration
	holdFor   time.Duration
	now       usage.Clock
}

var _ usage.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the key prefix (default "fixit:usage:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithTTL sets how long a day's counter lives after its last write.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithReservationTTL sets how long an unsettled reservation keeps counting.
func WithReservationTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.holdFor = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(c usage.Clock) Option {
	return func(s *Store) { s.now = c }
}

// New wraps a connected client.
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "fixit:usage:",
		ttl:       DefaultTTL,
		holdFor:   usage.DefaultReservationTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL, pings the server and returns a Store.
func Connect(ctx context.Context, url string, opts ...Option) (*Store, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := goredis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return New(c, opts...), nil
}

// Key returns the hash key for a user on a day.
func (s *Store) Key(userID, day string) string {
	return s.keyPrefix + day + ":" + userID
}

// reserveScript claims an in-flight slot. Slots whose deadline has passed
// are dropped before the limit check.
// KEYS[1] = counter hash
// ARGV[1] = limit
// ARGV[2] = ttl seconds
// ARGV[3] = now (unix ms)
// ARGV[4] = new deadline (unix ms)
//
// Returns 1 when reserved, 0 when the limit is reached.
var reserveScript = goredis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local count = tonumber(redis.call("HGET", key, "count") or "0")
local reserved = tonumber(redis.call("HGET", key, "reserved") or "0")
local untilMs = tonumber(redis.call("HGET", key, "reserved_until") or "0")
if untilMs <= tonumber(ARGV[3]) then
    reserved = 0
end
if count + reserved >= limit then
    return 0
end
redis.call("HSET", key, "reserved", reserved + 1, "reserved_until", ARGV[4])
redis.call("EXPIRE", key, tonumber(ARGV[2]))
return 1
`)

// commitScript turns a reservation into a counted message.
// KEYS[1] = counter hash
// ARGV[1] = last_message_at (RFC3339)
// ARGV[2] = ttl seconds
var commitScript = goredis.NewScript(`
local key = KEYS[1]
local reserved = tonumber(redis.call("HGET", key, "reserved") or "0")
if reserved > 0 then
    redis.call("HINCRBY", key, "reserved", -1)
end
redis.call("HINCRBY", key, "count", 1)
redis.call("HSET", key, "last_message_at", ARGV[1])
redis.call("EXPIRE", key, tonumber(ARGV[2]))
return 1
`)

// rollbackScript releases a reservation.
// KEYS[1] = counter hash
var rollbackScript = goredis.NewScript(`
local key = KEYS[1]
local reserved = tonumber(redis.call("HGET", key, "reserved") or "0")
if reserved > 0 then
    redis.call("HINCRBY", key, "reserved", -1)
end
return 1
`)

func (s *Store) UsageToday(ctx context.Context, userID string) (int, error) {
	n, err := s.client.HGet(ctx, s.Key(userID, usage.Day(s.now())), "count").Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, usage.Wrap("usage today", err)
	}
	return n, nil
}

func (s *Store) IncrementUsage(ctx context.Context, userID string) error {
	now := s.now().UTC()
	key := s.Key(userID, usage.Day(now))
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "count", 1)
		pipe.HSet(ctx, key, "last_message_at", now.Format(time.RFC3339))
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return usage.Wrap("increment", err)
}

func (s *Store) Reserve(ctx context.Context, userID string, limit int) (usage.Reservation, error) {
	if limit <= 0 {
		return usage.Reservation{}, usage.ErrQuotaExceeded
	}
	now := s.now()
	day := usage.Day(now)

	result, err := reserveScript.Run(ctx, s.client,
		[]string{s.Key(userID, day)},
		limit, int64(s.ttl/time.Second),
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(s.holdFor).UnixMilli(), 10),
	).Int64()
	if err != nil {
		return usage.Reservation{}, usage.Wrap("reserve", err)
	}
	switch result {
	case 1:
		return usage.Reservation{UserID: userID, Day: day}, nil
	case 0:
		return usage.Reservation{}, usage.ErrQuotaExceeded
	default:
		return usage.Reservation{}, usage.Wrap("reserve", fmt.Errorf("unexpected script result %d", result))
	}
}

func (s *Store) Commit(ctx context.Context, r usage.Reservation) error {
	_, err := commitScript.Run(ctx, s.client,
		[]string{s.Key(r.UserID, r.Day)},
		s.now().UTC().Format(time.RFC3339), int64(s.ttl/time.Second),
	).Result()
	return usage.Wrap("commit", err)
}

func (s *Store) Rollback(ctx context.Context, r usage.Reservation) error {
	_, err := rollbackScript.Run(ctx, s.client, []string{s.Key(r.UserID, r.Day)}).Result()
	return usage.Wrap("rollback", err)
}

func (s *Store) Ping(ctx context.Context) error {
	return usage.Wrap("ping", s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	return s.client.Close()
}
