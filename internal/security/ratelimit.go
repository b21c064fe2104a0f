package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a key exceeds its allowed event rate.
var ErrRateLimited = errors.New("rate limit exceeded")

const (
	defaultAttemptWindow = time.Minute
	defaultAttemptLimit  = 10
)

// AttemptLimiterConfig configures an AttemptLimiter.
type AttemptLimiterConfig struct {
	// Window is the sliding window duration. Defaults to one minute.
	Window time.Duration

	// Limit is the maximum number of events allowed per key within
	// Window. Defaults to 10.
	Limit int
}

// AttemptLimiter implements per-key sliding window rate limiting using
// stdlib only — one bucket of event timestamps per key, created lazily
// on first use. It throttles the Auth Gate's failed-credential attempts
// per remote address (spec §4.I), not per-client traffic volume.
type AttemptLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	window  time.Duration
	limit   int
	now     func() time.Time
}

type bucket struct {
	events []time.Time
}

// NewAttemptLimiter creates a limiter with the given config. Zero-value
// fields fall back to defaults.
func NewAttemptLimiter(cfg AttemptLimiterConfig) *AttemptLimiter {
	window := cfg.Window
	if window <= 0 {
		window = defaultAttemptWindow
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultAttemptLimit
	}
	return &AttemptLimiter{
		buckets: make(map[string]*bucket),
		window:  window,
		limit:   limit,
		now:     time.Now,
	}
}

// Allow records one event for key and reports whether it is within the
// configured rate. Returns ErrRateLimited once key's bucket is full.
func (l *AttemptLimiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}

	now := l.now()
	b.evict(now, l.window)

	if len(b.events) >= l.limit {
		return ErrRateLimited
	}

	b.events = append(b.events, now)
	return nil
}

// evict removes events outside the sliding window. events are
// chronologically ordered since Allow only ever appends.
func (b *bucket) evict(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
