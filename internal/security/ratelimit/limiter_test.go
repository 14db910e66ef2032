package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/gatekeeper/internal/repository"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter() (*Limiter, *clock) {
	c := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	repo := repository.NewMemoryRateLimitRepository(c.Now)
	l := NewLimiter(repo, domain.LockoutPolicy{}, WithClock(c.Now), WithLogger(logger.Discard()))
	return l, c
}

func TestDefaults(t *testing.T) {
	l, _ := newTestLimiter()
	assert.Equal(t, 5, l.Policy().MaxAttempts)
	assert.Equal(t, 900*time.Second, l.Policy().Duration)
}

// Five failures from 10.0.0.5 lock the login action for 900 seconds; the
// lock releases exactly when the window ends.
func TestLockoutScenario(t *testing.T) {
	l, c := newTestLimiter()
	ctx := context.Background()
	const ip = "10.0.0.5"

	for i := 1; i <= 4; i++ {
		st, err := l.RecordFailure(ctx, ip, "login")
		require.NoError(t, err)
		assert.False(t, st.Locked, "attempt %d should not lock", i)
		c.Advance(time.Second)
	}

	st, err := l.RecordFailure(ctx, ip, "login")
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.True(t, st.JustLocked)
	assert.Equal(t, 900*time.Second, st.RetryAfter)

	allowed, err := l.CheckAllowed(ctx, ip, "login")
	require.NoError(t, err)
	assert.False(t, allowed)

	c.Advance(899 * time.Second)
	st, err = l.Check(ctx, ip, "login")
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, time.Second, st.RetryAfter)

	c.Advance(time.Second)
	allowed, err = l.CheckAllowed(ctx, ip, "login")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestFailuresDuringLockoutDoNotExtend(t *testing.T) {
	l, c := newTestLimiter()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := l.RecordFailure(ctx, "10.0.0.5", "login")
		require.NoError(t, err)
	}

	c.Advance(10 * time.Minute)
	st, err := l.RecordFailure(ctx, "10.0.0.5", "login")
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.False(t, st.JustLocked)
	assert.Equal(t, 5*time.Minute, st.RetryAfter)
}

func TestResetClearsAttempts(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := l.RecordFailure(ctx, "10.0.0.5", "login")
		require.NoError(t, err)
	}
	require.NoError(t, l.Reset(ctx, "10.0.0.5", "login"))

	st, err := l.RecordFailure(ctx, "10.0.0.5", "login")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Attempts)
	assert.False(t, st.Locked)
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := l.RecordFailure(ctx, "10.0.0.5", "login")
		require.NoError(t, err)
	}

	allowed, err := l.CheckAllowed(ctx, "10.0.0.6", "login")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.CheckAllowed(ctx, "10.0.0.5", "change_password")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestConcurrentFailuresLockExactlyOnce(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		justLocked  int
		lockedCount int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := l.RecordFailure(ctx, "10.0.0.5", "login")
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if st.JustLocked {
				justLocked++
			}
			if st.Locked {
				lockedCount++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, justLocked)
	assert.Equal(t, 46, lockedCount, "the fifth failure and every later one observe the lock")
}

type failingRepo struct{ domain.RateLimitRepository }

func (failingRepo) Lookup(context.Context, domain.RateLimitKey, time.Time, domain.LockoutPolicy) (*domain.RateLimitEntry, error) {
	return nil, domain.Unavailable("lookup", errors.New("redis down"))
}

func TestCheckPropagatesStoreErrors(t *testing.T) {
	l := NewLimiter(failingRepo{}, domain.LockoutPolicy{})
	_, err := l.CheckAllowed(context.Background(), "10.0.0.5", "login")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}
