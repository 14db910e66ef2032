package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPasswordMismatch   = errors.New("password mismatch")
	ErrAccountInactive    = errors.New("account inactive")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limited")
	ErrNoSession          = errors.New("no session")
	ErrSessionExpired     = errors.New("session expired")
	ErrForbidden          = errors.New("forbidden")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidInput       = errors.New("invalid input")
)

// RateLimitedError carries the remaining lockout time
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is(err, ErrRateLimited) match
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// IsUnauthenticated reports whether err means the caller holds no valid session
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrNoSession) || errors.Is(err, ErrSessionExpired)
}

// Unavailable wraps a backend failure so callers can match ErrStorageUnavailable
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
