package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter implements a simple in-memory rate limiter using a sliding window.
// The clock is injectable so tests can advance virtual time.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
	now      func() time.Time
}

// sweepInterval is how often the background goroutine drops stale keys, so a
// long-running server does not accumulate an entry per client IP ever seen.
const sweepInterval = time.Hour

// NewRateLimiter creates a new rate limiter and starts its cleanup goroutine.
// A nil now defaults to time.Now.
func NewRateLimiter(window time.Duration, maxReqs int, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
		now:      now,
	}
	go rl.sweepLoop(sweepInterval, nil)
	return rl
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	reqs := rl.requests[key]
	filtered := make([]time.Time, 0, len(reqs))
	for _, t := range reqs {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}

	if len(filtered) >= rl.maxReqs {
		rl.requests[key] = filtered
		return false
	}

	filtered = append(filtered, now)
	rl.requests[key] = filtered
	return true
}

// Sweep removes entries older than twice the window and returns how many keys
// were dropped entirely.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window * 2)
	removed := 0
	for key, reqs := range rl.requests {
		filtered := make([]time.Time, 0, len(reqs))
		for _, t := range reqs {
			if t.After(cutoff) {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) == 0 {
			delete(rl.requests, key)
			removed++
		} else {
			rl.requests[key] = filtered
		}
	}
	return removed
}

// sweepLoop runs Sweep on a ticker until stop is closed. A nil stop never
// fires, so the loop lasts for the limiter's lifetime.
func (rl *RateLimiter) sweepLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

// GetIPKey extracts an IP address key from the request for rate limiting.
func GetIPKey(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		// Take the first IP if multiple
		ips := strings.Split(forwarded, ",")
		return "ip:" + strings.TrimSpace(ips[0])
	}
	return "ip:" + r.RemoteAddr
}
