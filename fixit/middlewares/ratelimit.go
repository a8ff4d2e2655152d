// fixit/middlewares/ratelimit.go
package middlewares

import (
	httputils "fixit/fixit/utils/http"
	"fixit/fixit/utils/logging"
	"fixit/fixit/utils/types"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TooManyMessages is the body sent with a burst rejection.
const TooManyMessages = "Too many messages, please slow down."

// RateLimiter holds one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiterEntry

	limit rate.Limit
	burst int

	cleanupInterval time.Duration
	entryTTL        time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

type rateLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter allows perMinute requests per IP per minute with an equal
// burst. Stop must be called to end the cleanup goroutine.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	rl := &RateLimiter{
		limiters:        make(map[string]*rateLimiterEntry),
		limit:           rate.Every(time.Minute / time.Duration(perMinute)),
		burst:           perMinute,
		cleanupInterval: 5 * time.Minute,
		entryTTL:        10 * time.Minute,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}
	go rl.cleanupLoop()
	return rl
}

// Allow consumes a token for ip. When none is left it returns how long the
// caller should wait.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	rl.mu.Unlock()

	res := limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Middleware rejects requests over the per-IP budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, wait := rl.Allow(ip)
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			logging.RequestLogger.Warn("burst limit hit",
				zap.String("ip", ip),
				zap.String("path", r.URL.Path),
				zap.Int("retry_after", secs),
			)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			httputils.WriteJSON(w, http.StatusTooManyRequests, types.ErrorResponse{Error: TooManyMessages})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP expects chi's RealIP to have rewritten RemoteAddr already.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.entryTTL)
	for ip, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Count returns the number of tracked IPs.
func (rl *RateLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
