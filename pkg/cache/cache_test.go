package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestAddAndGet(t *testing.T) {
	clock := newClock()
	c := NewWithClock[string](clock.Now)
	c.Add("key1", "value1", clock.Now().Add(time.Second))
	val, ok := c.Get("key1")
	if !ok || val != "value1" {
		t.Fatalf("expected value1, got %v, exists=%v", val, ok)
	}
}

func TestExpiration(t *testing.T) {
	clock := newClock()
	c := NewWithClock[string](clock.Now)
	c.Add("key1", "value1", clock.Now().Add(100*time.Millisecond))
	clock.Advance(150 * time.Millisecond)
	if _, ok := c.Get("key1"); ok {
		t.Fatalf("expected expired key to return false")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired key to be dropped on read")
	}
}

func TestDelete(t *testing.T) {
	c := NewWithClock[string](nil)
	c.Add("key1", "value1", time.Time{})
	c.Delete("key1")
	if _, ok := c.Get("key1"); ok {
		t.Fatalf("expected deleted key to return false")
	}
}

func TestAddRefusesLiveKey(t *testing.T) {
	clock := newClock()
	c := NewWithClock[int](clock.Now)
	if !c.Add("k", 1, clock.Now().Add(time.Minute)) {
		t.Fatalf("first add should succeed")
	}
	if c.Add("k", 2, clock.Now().Add(time.Minute)) {
		t.Fatalf("second add should fail while the key is live")
	}
	clock.Advance(2 * time.Minute)
	if !c.Add("k", 3, clock.Now().Add(time.Minute)) {
		t.Fatalf("add should succeed after expiry")
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	c := NewWithClock[int](nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Update("counter", func(cur int, _ bool) (int, time.Time, bool) {
				return cur + 1, time.Time{}, true
			})
		}()
	}
	wg.Wait()
	if v, _ := c.Get("counter"); v != 100 {
		t.Fatalf("expected 100 increments, got %d", v)
	}

	c.Update("counter", func(int, bool) (int, time.Time, bool) { return 0, time.Time{}, false })
	if _, ok := c.Get("counter"); ok {
		t.Fatalf("keep=false should delete the key")
	}
}

func TestUpdateTreatsExpiredAsAbsent(t *testing.T) {
	clock := newClock()
	c := NewWithClock[int](clock.Now)
	c.Add("k", 5, clock.Now().Add(time.Second))
	clock.Advance(time.Minute)

	c.Update("k", func(cur int, exists bool) (int, time.Time, bool) {
		if exists || cur != 0 {
			t.Fatalf("expired entry must be reported absent, got %d exists=%v", cur, exists)
		}
		return 1, time.Time{}, true
	})
	if v, _ := c.Get("k"); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
}

func TestRename(t *testing.T) {
	c := NewWithClock[string](nil)
	if c.Rename("missing", "new", "v", time.Time{}) {
		t.Fatalf("rename of a missing key should fail")
	}
	c.Add("old", "v1", time.Time{})
	c.Add("taken", "v2", time.Time{})
	if c.Rename("old", "taken", "v3", time.Time{}) {
		t.Fatalf("rename onto a live key should fail")
	}
	if !c.Rename("old", "new", "v4", time.Time{}) {
		t.Fatalf("rename should succeed")
	}
	if _, ok := c.Get("old"); ok {
		t.Fatalf("old key should be gone")
	}
	if v, ok := c.Get("new"); !ok || v != "v4" {
		t.Fatalf("expected v4 under new key, got %q", v)
	}
}

func TestSweep(t *testing.T) {
	clock := newClock()
	c := NewWithClock[string](clock.Now)
	c.Add("short", "a", clock.Now().Add(time.Second))
	c.Add("long", "b", clock.Now().Add(time.Hour))
	c.Add("forever", "c", time.Time{})
	clock.Advance(time.Minute)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept entry, got %d", n)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 remaining entries, got %d", c.Len())
	}
}
