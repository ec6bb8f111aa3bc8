package storage

import (
	"context"
	"log/slog"
	"time"

	"slashbin/internal/server/metrics"
)

// Evictor is the part of Store the sweeper drives.
type Evictor interface {
	EvictExpired(ctx context.Context) (int, error)
}

// Sweeper periodically removes expired entries. It complements the lazy
// eviction done by readers and uses the same expiry predicate.
type Sweeper struct {
	store    Evictor
	interval time.Duration
	done     chan struct{}
}

// NewSweeper creates a new sweeper.
func NewSweeper(store Evictor, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	slog.Info("expiry sweeper started", "interval", sw.interval)

	go func() {
		defer close(sw.done)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		// Catch whatever expired while the process was down.
		sw.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				sw.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("expiry sweeper stopping")
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (sw *Sweeper) Wait() {
	<-sw.done
}

// RunOnce performs a single sweep and returns the number of evicted entries.
func (sw *Sweeper) RunOnce(ctx context.Context) int {
	start := time.Now()
	evicted, err := sw.store.EvictExpired(ctx)
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Error("expiry sweep failed", "error", err, "evicted", evicted)
		return evicted
	}

	slog.Info("expiry sweep complete",
		"evicted", evicted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return evicted
}
