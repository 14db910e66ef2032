package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/gatekeeper/internal/observability/metrics"
)

// Sweepable is a store that can drop its own expired entries
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper periodically reaps expired sessions and lockout entries from the
// in-memory stores. Correctness never depends on it: the stores already
// ignore expired entries on read.
type Sweeper struct {
	stores   map[string]Sweepable
	logger   *slog.Logger
	interval time.Duration
}

// NewSweeper creates a sweeper over the named stores
func NewSweeper(stores map[string]Sweepable, logger *slog.Logger, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		stores:   stores,
		logger:   logger,
		interval: interval,
	}
}

// Start runs the sweep loop until ctx is cancelled
func (w *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("sweeper started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass over every store and returns the total removed
func (w *Sweeper) SweepOnce(ctx context.Context) int {
	total := 0
	for name, store := range w.stores {
		n, err := store.Sweep(ctx)
		if err != nil {
			w.logger.Error("sweep failed",
				slog.String("store", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		metrics.ObserveSweep(name, n)
		if n > 0 {
			w.logger.Debug("swept expired entries", slog.String("store", name), slog.Int("removed", n))
		}
		total += n
	}
	return total
}
