package admission

import (
	"sync"
	"time"
)

// DefaultWindow is the trailing window used for per-requestor rate limits.
const DefaultWindow = time.Minute

// RateLimiter enforces a per-requestor limit over a sliding window.
//
// Each requestor keeps the timestamps of its counted requests. An entry whose
// age equals the window is already expired.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[RequestorID][]time.Time
}

// RateStats describes a requestor's current window.
type RateStats struct {
	Recent     int           `json:"recent_requests"`
	Max        int           `json:"max_requests"`
	RetryAfter time.Duration `json:"retry_after"`
}

// NewRateLimiter returns a limiter admitting limit requests per window.
// A limit of zero or less rejects every request.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit < 0 {
		limit = 0
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[RequestorID][]time.Time),
	}
}

// Limit returns the configured ceiling.
func (r *RateLimiter) Limit() int {
	return r.limit
}

// Window returns the window length.
func (r *RateLimiter) Window() time.Duration {
	return r.window
}

// TryAdmit purges expired entries for id and records now if the remaining
// count is under the limit. A rejected call leaves the window unchanged.
func (r *RateLimiter) TryAdmit(id RequestorID, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.prune(r.windows[id], now)
	if len(entries) >= r.limit {
		r.store(id, entries)
		return false
	}

	r.windows[id] = append(entries, now)
	return true
}

// WindowLen returns the number of live entries for id without mutating state.
func (r *RateLimiter) WindowLen(id RequestorID, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.windows[id]
	return len(entries) - r.expiredCount(entries, now)
}

// Stats returns the live window summary for id.
func (r *RateLimiter) Stats(id RequestorID, now time.Time) RateStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.windows[id]
	live := entries[r.expiredCount(entries, now):]
	stats := RateStats{Recent: len(live), Max: r.limit}
	if len(live) > 0 && len(live) >= r.limit {
		stats.RetryAfter = live[0].Add(r.window).Sub(now)
	}
	return stats
}

// Sweep drops requestors whose windows have fully expired and returns how many
// were removed.
func (r *RateLimiter) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, entries := range r.windows {
		if r.expiredCount(entries, now) == len(entries) {
			delete(r.windows, id)
			removed++
		}
	}
	return removed
}

// Requestors returns the number of tracked requestors.
func (r *RateLimiter) Requestors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

func (r *RateLimiter) prune(entries []time.Time, now time.Time) []time.Time {
	expired := r.expiredCount(entries, now)
	if expired == 0 {
		return entries
	}
	return append(entries[:0], entries[expired:]...)
}

// expiredCount returns the length of the expired prefix. Entries are appended
// in call order, so the expired ones are always at the front.
func (r *RateLimiter) expiredCount(entries []time.Time, now time.Time) int {
	n := 0
	for _, ts := range entries {
		if now.Sub(ts) < r.window {
			break
		}
		n++
	}
	return n
}

func (r *RateLimiter) store(id RequestorID, entries []time.Time) {
	if len(entries) == 0 {
		delete(r.windows, id)
		return
	}
	r.windows[id] = entries
}
