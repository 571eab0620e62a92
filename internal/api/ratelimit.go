package api

import (
	"sync"
	"time"
)

const defaultRateWindow = time.Minute

// RateLimiter is a per-user sliding window limiter.
// The key is the user id so clients cannot bypass throttling by switching sessions.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
	done     chan struct{}
	once     sync.Once
}

// NewRateLimiter creates a limiter and starts its background eviction.
// A non-positive window falls back to one minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = defaultRateWindow
	}
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := fresh(r.requests[key], now.Add(-r.window))
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Close stops background eviction.
func (r *RateLimiter) Close() {
	r.once.Do(func() { close(r.done) })
}

// evictLoop periodically drops expired keys so the map stays bounded.
func (r *RateLimiter) evictLoop() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		cutoff := r.now().Add(-r.window)
		for key, times := range r.requests {
			if kept := fresh(times, cutoff); len(kept) == 0 {
				delete(r.requests, key)
			} else {
				r.requests[key] = kept
			}
		}
		r.mu.Unlock()
	}
}

func fresh(times []time.Time, cutoff time.Time) []time.Time {
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
