package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is a per-client token bucket in front of expensive endpoints.
// It bounds request rate; the Limiter bounds failed attempts.
type Throttle struct {
	mu       sync.Mutex
	clients  map[string]*client
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	cleanup  *time.Ticker
	stopOnce sync.Once
	done     chan struct{}
	now      func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle allows perSecond requests per client with the given burst
func NewThrottle(perSecond float64, burst int) *Throttle {
	t := newThrottle(perSecond, burst, time.Now)
	t.cleanup = time.NewTicker(5 * time.Minute)
	go t.cleanupIdleClients()
	return t
}

func newThrottle(perSecond float64, burst int, now func() time.Time) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		clients: make(map[string]*client),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		done:    make(chan struct{}),
		now:     now,
	}
}

// Allow consumes a token for id and reports whether one was available
func (t *Throttle) Allow(id string) bool {
	if id == "" {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	c, ok := t.clients[id]
	if !ok {
		c = &client{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.clients[id] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// evictIdle drops clients unseen for idleTTL and returns how many went
func (t *Throttle) evictIdle() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.idleTTL)
	removed := 0
	for id, c := range t.clients {
		if c.lastSeen.Before(cutoff) {
			delete(t.clients, id)
			removed++
		}
	}
	return removed
}

func (t *Throttle) cleanupIdleClients() {
	for {
		select {
		case <-t.done:
			return
		case <-t.cleanup.C:
			t.evictIdle()
		}
	}
}

// Stop ends the cleanup goroutine
func (t *Throttle) Stop() {
	t.stopOnce.Do(func() {
		if t.cleanup != nil {
			t.cleanup.Stop()
		}
		close(t.done)
	})
}
