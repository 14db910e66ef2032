package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aryan0dhankhar/gatekeeper/internal/infrastructure/logger"
)

type fakeStore struct {
	n     int
	err   error
	calls int
}

func (f *fakeStore) Sweep(context.Context) (int, error) {
	f.calls++
	return f.n, f.err
}

func TestSweepOnceSumsStores(t *testing.T) {
	sessions := &fakeStore{n: 2}
	lockouts := &fakeStore{n: 3}
	broken := &fakeStore{err: errors.New("boom")}

	w := NewSweeper(map[string]Sweepable{
		"sessions": sessions,
		"lockouts": lockouts,
		"broken":   broken,
	}, logger.Discard(), time.Minute)

	if got := w.SweepOnce(context.Background()); got != 5 {
		t.Fatalf("expected 5 removed, got %d", got)
	}
	if broken.calls != 1 {
		t.Fatalf("failing store should still be visited")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	store := &fakeStore{n: 1}
	w := NewSweeper(map[string]Sweepable{"sessions": store}, logger.Discard(), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
	if store.calls == 0 {
		t.Fatalf("expected at least one sweep")
	}
}
