package domain

import (
	"context"
	"time"
)

// Session is server-side login state. The ID is the only part that leaves
// the server, inside the session cookie.
type Session struct {
	ID                string    `json:"id"`
	UserID            int64     `json:"user_id"`
	Role              Role      `json:"role"`
	CreatedAt         time.Time `json:"created_at"`
	LastRegeneratedAt time.Time `json:"last_regenerated_at"`
	ExpiresAt         time.Time `json:"expires_at"`

	// Set by Validate when the id was rotated during this call.
	Rotated    bool   `json:"-"`
	PreviousID string `json:"-"`
}

// ExpiredAt reports whether the absolute deadline has passed
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Remaining returns the time left before expiry, never negative
func (s *Session) Remaining(now time.Time) time.Duration {
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// SessionRepository persists sessions. Implementations must make Create,
// Rotate and Delete atomic per session id.
type SessionRepository interface {
	// Create stores a new session; it fails if the id is already taken.
	Create(ctx context.Context, s *Session) error
	// Get returns ErrNoSession when the id is unknown.
	Get(ctx context.Context, id string) (*Session, error)
	// Rotate replaces oldID by next.ID in one step. It returns ErrNoSession if
	// oldID is gone, which is what a losing concurrent rotation observes.
	Rotate(ctx context.Context, oldID string, next *Session) error
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
}

// RateLimitKey identifies a throttled (client, action) pair
type RateLimitKey struct {
	ClientIP string
	Action   string
}

// String renders the storage key
func (k RateLimitKey) String() string {
	return k.Action + ":" + k.ClientIP
}

// RateLimitEntry tracks consecutive failures for one key
type RateLimitEntry struct {
	Key            RateLimitKey
	Attempts       int
	FirstAttemptAt time.Time
	LockedUntil    time.Time // zero when not locked

	// JustLocked is set by RecordFailure on the failure that started the lockout.
	JustLocked bool
}

// Locked reports whether the entry blocks attempts at now
func (e *RateLimitEntry) Locked(now time.Time) bool {
	return !e.LockedUntil.IsZero() && now.Before(e.LockedUntil)
}

// LockoutPolicy parameterizes the lockout store. Duration is both the lockout
// length and the window in which failures are counted.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// RateLimitRepository stores lockout entries. Every method is atomic per key.
type RateLimitRepository interface {
	// Lookup returns the live entry for key or nil. An entry whose lockout or
	// counting window has elapsed at now is deleted and nil is returned.
	Lookup(ctx context.Context, key RateLimitKey, now time.Time, policy LockoutPolicy) (*RateLimitEntry, error)
	// RecordFailure increments attempts and locks the key once the policy
	// threshold is reached. A key that is already locked is left unchanged.
	RecordFailure(ctx context.Context, key RateLimitKey, now time.Time, policy LockoutPolicy) (*RateLimitEntry, error)
	// Delete is idempotent.
	Delete(ctx context.Context, key RateLimitKey) error
}
