package local

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

type limiterEntry struct {
	lim      *rate.Limiter
	limit    int
	window   time.Duration
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key. The bucket holds limit tokens
// and refills at limit per window.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	now     func() time.Time
	idleTTL time.Duration
}

// NewRateLimiter returns a RateLimiter that forgets keys idle for idleTTL.
func NewRateLimiter(idleTTL time.Duration) *RateLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &RateLimiter{entries: make(map[string]*limiterEntry), now: time.Now, idleTTL: idleTTL}
}

// Allow reports whether one more request for key is permitted.
func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.limit != limit || e.window != window {
		e = &limiterEntry{
			lim:    rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
			limit:  limit,
			window: window,
		}
		r.entries[key] = e
	}
	e.lastSeen = now
	r.sweep(now)
	return e.lim.AllowN(now, 1), nil
}

// sweep drops idle keys. Caller holds mu.
func (r *RateLimiter) sweep(now time.Time) {
	if len(r.entries) < 1024 {
		return
	}
	for k, e := range r.entries {
		if now.Sub(e.lastSeen) > r.idleTTL {
			delete(r.entries, k)
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
