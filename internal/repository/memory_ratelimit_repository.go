package repository

import (
	"context"
	"time"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/pkg/cache"
)

// MemoryRateLimitRepository keeps lockout entries in process memory
type MemoryRateLimitRepository struct {
	items *cache.Cache[domain.RateLimitEntry]
}

// NewMemoryRateLimitRepository creates an empty store reading time from now
func NewMemoryRateLimitRepository(now func() time.Time) *MemoryRateLimitRepository {
	return &MemoryRateLimitRepository{items: cache.NewWithClock[domain.RateLimitEntry](now)}
}

func (r *MemoryRateLimitRepository) Lookup(_ context.Context, key domain.RateLimitKey, now time.Time, policy domain.LockoutPolicy) (*domain.RateLimitEntry, error) {
	var out *domain.RateLimitEntry
	r.items.Update(key.String(), func(cur domain.RateLimitEntry, exists bool) (domain.RateLimitEntry, time.Time, bool) {
		if !exists || stale(&cur, now, policy) {
			return cur, time.Time{}, false
		}
		e := cur
		e.JustLocked = false
		out = &e
		return cur, expiry(&cur, policy), true
	})
	return out, nil
}

func (r *MemoryRateLimitRepository) RecordFailure(_ context.Context, key domain.RateLimitKey, now time.Time, policy domain.LockoutPolicy) (*domain.RateLimitEntry, error) {
	var out domain.RateLimitEntry
	r.items.Update(key.String(), func(cur domain.RateLimitEntry, exists bool) (domain.RateLimitEntry, time.Time, bool) {
		if exists && cur.Locked(now) {
			cur.JustLocked = false
			out = cur
			return cur, expiry(&cur, policy), true
		}
		if !exists || stale(&cur, now, policy) {
			cur = domain.RateLimitEntry{Key: key, FirstAttemptAt: now}
		}
		cur.Attempts++
		cur.JustLocked = false
		if cur.Attempts >= policy.MaxAttempts {
			cur.LockedUntil = now.Add(policy.Duration)
			cur.JustLocked = true
		}
		out = cur
		return cur, expiry(&cur, policy), true
	})
	return &out, nil
}

func (r *MemoryRateLimitRepository) Delete(_ context.Context, key domain.RateLimitKey) error {
	r.items.Delete(key.String())
	return nil
}

// Sweep drops entries whose window or lockout has elapsed
func (r *MemoryRateLimitRepository) Sweep(context.Context) (int, error) {
	return r.items.Sweep(), nil
}

// stale reports whether an entry no longer affects decisions at now
func stale(e *domain.RateLimitEntry, now time.Time, policy domain.LockoutPolicy) bool {
	if !e.LockedUntil.IsZero() {
		return !now.Before(e.LockedUntil)
	}
	return now.Sub(e.FirstAttemptAt) >= policy.Duration
}

func expiry(e *domain.RateLimitEntry, policy domain.LockoutPolicy) time.Time {
	if !e.LockedUntil.IsZero() {
		return e.LockedUntil
	}
	return e.FirstAttemptAt.Add(policy.Duration)
}
