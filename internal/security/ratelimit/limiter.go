package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/observability/metrics"
)

// Default lockout policy
const (
	DefaultMaxAttempts     = 5
	DefaultLockoutDuration = 900 * time.Second
)

// Status describes a key after a check or a recorded failure
type Status struct {
	Attempts   int
	Locked     bool
	RetryAfter time.Duration
	// JustLocked is set by RecordFailure on the failure that started the lockout.
	JustLocked bool
}

// Limiter locks a (client ip, action) pair out after repeated failures.
// State lives in the repository so several instances can share it.
type Limiter struct {
	repo   domain.RateLimitRepository
	policy domain.LockoutPolicy
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// NewLimiter creates a limiter over repo. Zero policy fields take the defaults.
func NewLimiter(repo domain.RateLimitRepository, policy domain.LockoutPolicy, opts ...Option) *Limiter {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Duration <= 0 {
		policy.Duration = DefaultLockoutDuration
	}
	l := &Limiter{
		repo:   repo,
		policy: policy,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the effective lockout policy
func (l *Limiter) Policy() domain.LockoutPolicy {
	return l.policy
}

// Check reports whether ip may attempt action now. Expired entries are
// removed by the store as a side effect.
func (l *Limiter) Check(ctx context.Context, ip, action string) (Status, error) {
	now := l.now()
	entry, err := l.repo.Lookup(ctx, key(ip, action), now, l.policy)
	if err != nil {
		return Status{}, err
	}
	return l.status(entry, now), nil
}

// CheckAllowed is Check reduced to a boolean
func (l *Limiter) CheckAllowed(ctx context.Context, ip, action string) (bool, error) {
	st, err := l.Check(ctx, ip, action)
	if err != nil {
		return false, err
	}
	return !st.Locked, nil
}

// RecordFailure counts a failed attempt and starts a lockout once the
// threshold is reached. Failures during a lockout do not extend it.
func (l *Limiter) RecordFailure(ctx context.Context, ip, action string) (Status, error) {
	now := l.now()
	entry, err := l.repo.RecordFailure(ctx, key(ip, action), now, l.policy)
	if err != nil {
		return Status{}, err
	}

	st := l.status(entry, now)
	if entry.JustLocked {
		st.JustLocked = true
		metrics.ObserveLockout(action)
		l.logger.Warn("client locked out",
			slog.String("client_ip", ip),
			slog.String("action", action),
			slog.Int("attempts", entry.Attempts),
			slog.Duration("retry_after", st.RetryAfter),
		)
	}
	return st, nil
}

// Reset clears the failure history for ip and action
func (l *Limiter) Reset(ctx context.Context, ip, action string) error {
	return l.repo.Delete(ctx, key(ip, action))
}

func (l *Limiter) status(entry *domain.RateLimitEntry, now time.Time) Status {
	if entry == nil {
		return Status{}
	}
	st := Status{Attempts: entry.Attempts}
	if entry.Locked(now) {
		st.Locked = true
		st.RetryAfter = entry.LockedUntil.Sub(now)
	}
	return st
}

func key(ip, action string) domain.RateLimitKey {
	return domain.RateLimitKey{ClientIP: ip, Action: action}
}
