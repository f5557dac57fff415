package platform

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Platform partner APIs enforce two quota windows: a short rolling window and
// a daily cap. The limiter tracks both and also spaces requests out so a
// backfill burst does not trip the short window immediately.
type RateLimiter struct {
	mu sync.Mutex

	shortLimit    int
	shortUsage    int
	shortWindow   time.Duration
	shortResetsAt time.Time

	dailyLimit    int
	dailyUsage    int
	dailyResetsAt time.Time

	minInterval time.Duration
	lastRequest time.Time
}

// Limits configures a RateLimiter.
type Limits struct {
	ShortLimit  int
	ShortWindow time.Duration
	DailyLimit  int
	MinInterval time.Duration
}

// DefaultLimits matches the quota most fitness platform partner tiers grant.
func DefaultLimits() Limits {
	return Limits{
		ShortLimit:  100,
		ShortWindow: 15 * time.Minute,
		DailyLimit:  1000,
		MinInterval: 150 * time.Millisecond,
	}
}

func NewRateLimiter(limits Limits) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		shortLimit:    limits.ShortLimit,
		shortWindow:   limits.ShortWindow,
		shortResetsAt: now.Add(limits.ShortWindow),
		dailyLimit:    limits.DailyLimit,
		dailyResetsAt: now.Truncate(24 * time.Hour).Add(24 * time.Hour),
		minInterval:   limits.MinInterval,
	}
}

// Wait blocks until a request can be made without exceeding either window.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.After(r.shortResetsAt) {
		r.shortUsage = 0
		r.shortResetsAt = now.Add(r.shortWindow)
	}
	if now.After(r.dailyResetsAt) {
		r.dailyUsage = 0
		r.dailyResetsAt = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}

	if r.shortUsage >= r.shortLimit {
		if err := r.sleepUnlocked(ctx, time.Until(r.shortResetsAt)); err != nil {
			return err
		}
		r.shortUsage = 0
		r.shortResetsAt = time.Now().Add(r.shortWindow)
	}

	if r.dailyUsage >= r.dailyLimit {
		if err := r.sleepUnlocked(ctx, time.Until(r.dailyResetsAt)); err != nil {
			return err
		}
		r.dailyUsage = 0
		r.dailyResetsAt = time.Now().Truncate(24 * time.Hour).Add(24 * time.Hour)
	}

	if elapsed := time.Since(r.lastRequest); elapsed < r.minInterval {
		if err := r.sleepUnlocked(ctx, r.minInterval-elapsed); err != nil {
			return err
		}
	}

	r.shortUsage++
	r.dailyUsage++
	r.lastRequest = time.Now()
	return nil
}

// sleepUnlocked releases the mutex while sleeping. Caller holds the lock on
// entry and on return.
func (r *RateLimiter) sleepUnlocked(ctx context.Context, d time.Duration) error {
	r.mu.Unlock()
	defer r.mu.Lock()
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateFromHeaders refreshes usage counters from the platform's quota
// headers, e.g. X-RateLimit-Usage: "34,512".
func (r *RateLimiter) UpdateFromHeaders(h http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if usage := h.Get("X-RateLimit-Usage"); usage != "" {
		parts := strings.Split(usage, ",")
		if len(parts) >= 2 {
			if short, err := strconv.Atoi(parts[0]); err == nil {
				r.shortUsage = short
			}
			if daily, err := strconv.Atoi(parts[1]); err == nil {
				r.dailyUsage = daily
			}
		}
	}

	if limit := h.Get("X-RateLimit-Limit"); limit != "" {
		parts := strings.Split(limit, ",")
		if len(parts) >= 2 {
			if short, err := strconv.Atoi(parts[0]); err == nil {
				r.shortLimit = short
			}
			if daily, err := strconv.Atoi(parts[1]); err == nil {
				r.dailyLimit = daily
			}
		}
	}
}

// Status returns remaining quota in each window.
func (r *RateLimiter) Status() (shortRemaining, dailyRemaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shortLimit - r.shortUsage, r.dailyLimit - r.dailyUsage
}
