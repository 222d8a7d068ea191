// Package pacing keeps outbound calls to image providers under each host's
// published request budget, and honours the backoff a provider asks for with
// a 429. State lives in a Store so restarts do not reset it.
package pacing

import (
	"context"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pixelbot/pixelbot/internal/core"
)

// Budget is a request allowance per window.
type Budget struct {
	Requests int
	Window   time.Duration
}

// Store persists pacing state per host.
type Store interface {
	GetRateLimit(ctx context.Context, host string) (*core.RateLimitState, error)
	UpdateRateLimit(ctx context.Context, host string, state *core.RateLimitState) error
}

// DefaultBudgets are conservative per-host allowances for the supported
// providers.
var DefaultBudgets = map[string]Budget{
	"api.bfl.ai":     {Requests: 24, Window: 10 * time.Second},
	"api.bfl.ml":     {Requests: 24, Window: 10 * time.Second},
	"api.openai.com": {Requests: 50, Window: time.Minute},
}

var fallbackBudget = Budget{Requests: 30, Window: time.Minute}

// Limiter gates provider calls. A nil Limiter or one without a Store allows
// everything. Every read-modify-write of a host's state is serialized within
// the process.
type Limiter struct {
	mu sync.Mutex

	Store   Store
	Budgets map[string]Budget
	Clock   func() time.Time
	// Margin scales every budget down by a ratio in (0, 1].
	Margin float64
}

// Allow reports whether a call to host may go out now, and otherwise how long
// to wait. It does not count the call; use Acquire to check and count at once.
func (l *Limiter) Allow(ctx context.Context, host string) (bool, time.Duration, error) {
	if l == nil || l.Store == nil {
		return true, 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, err := l.load(ctx, host, now)
	if err != nil {
		return true, 0, err
	}
	ok, wait := l.check(state, host, now)
	return ok, wait, nil
}

// Acquire checks host's budget and, when the call may go out, counts it in
// the same step. Concurrent callers therefore never exceed the budget.
func (l *Limiter) Acquire(ctx context.Context, host string) (bool, time.Duration, error) {
	if l == nil || l.Store == nil {
		return true, 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, err := l.load(ctx, host, now)
	if err != nil {
		return false, 0, err
	}
	if ok, wait := l.check(state, host, now); !ok {
		return false, wait, nil
	}
	if err := l.count(ctx, host, state, now); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}

// Record counts one call to host, starting a new window when the previous one
// has elapsed.
func (l *Limiter) Record(ctx context.Context, host string) error {
	if l == nil || l.Store == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, err := l.load(ctx, host, now)
	if err != nil {
		return err
	}
	return l.count(ctx, host, state, now)
}

func (l *Limiter) check(state *core.RateLimitState, host string, now time.Time) (bool, time.Duration) {
	if state.BackoffUntil != nil && now.Before(*state.BackoffUntil) {
		return false, state.BackoffUntil.Sub(now)
	}
	budget := l.budget(host)
	windowEnd := state.WindowStart.Add(budget.Window)
	if now.After(windowEnd) {
		return true, 0
	}
	if state.RequestCount >= budget.Requests {
		return false, windowEnd.Sub(now)
	}
	return true, 0
}

func (l *Limiter) count(ctx context.Context, host string, state *core.RateLimitState, now time.Time) error {
	if now.After(state.WindowStart.Add(l.budget(host).Window)) {
		state.RequestCount = 0
		state.WindowStart = now
	}
	state.RequestCount++
	return l.Store.UpdateRateLimit(ctx, host, state)
}

// Record429 stores a provider's rate-limit response. A positive retryAfter
// blocks the host until it has passed.
func (l *Limiter) Record429(ctx context.Context, host string, retryAfter time.Duration) error {
	if l == nil || l.Store == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, err := l.load(ctx, host, now)
	if err != nil {
		return err
	}

	state.Last429At = &now
	if retryAfter > 0 {
		until := now.Add(retryAfter)
		state.BackoffUntil = &until
	}
	return l.Store.UpdateRateLimit(ctx, host, state)
}

// Override replaces the per-minute budget of the named hosts. Non-positive
// values are ignored.
func (l *Limiter) Override(perMinute map[string]int) {
	if l == nil || len(perMinute) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Budgets == nil {
		l.Budgets = make(map[string]Budget, len(DefaultBudgets))
		for host, budget := range DefaultBudgets {
			l.Budgets[host] = budget
		}
	}
	for host, value := range perMinute {
		host = strings.TrimSpace(host)
		if host == "" || value <= 0 {
			continue
		}
		l.Budgets[host] = Budget{Requests: value, Window: time.Minute}
	}
}

// HostOf returns the host of a provider base URL, or the input when it does
// not parse as one.
func HostOf(baseURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Host == "" {
		return strings.TrimSpace(baseURL)
	}
	return parsed.Hostname()
}

func (l *Limiter) load(ctx context.Context, host string, now time.Time) (*core.RateLimitState, error) {
	state, err := l.Store.GetRateLimit(ctx, host)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &core.RateLimitState{WindowStart: now}
	}
	return state, nil
}

func (l *Limiter) budget(host string) Budget {
	budgets := l.Budgets
	if budgets == nil {
		budgets = DefaultBudgets
	}
	budget, ok := budgets[host]
	if !ok {
		budget = fallbackBudget
	}

	if l.Margin <= 0 || l.Margin > 1 {
		return budget
	}
	scaled := int(math.Floor(float64(budget.Requests) * l.Margin))
	if scaled < 1 {
		scaled = 1
	}
	budget.Requests = scaled
	return budget
}

func (l *Limiter) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
