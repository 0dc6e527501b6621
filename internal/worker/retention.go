package worker

import (
	"context"
	"log/slog"
	"time"
)

// RetentionStore defines the buffer operations needed by the retention worker.
type RetentionStore interface {
	PurgeSyncedBefore(cutoff time.Time) (int, error)
}

// RetentionWorker periodically purges synced offline entities older than the
// retention window. Pending entities are never touched.
type RetentionWorker struct {
	store    RetentionStore
	interval time.Duration
	window   time.Duration
}

// NewRetentionWorker creates a worker with the given store, sweep interval, and retention window.
func NewRetentionWorker(store RetentionStore, interval, window time.Duration) *RetentionWorker {
	return &RetentionWorker{
		store:    store,
		interval: interval,
		window:   window,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Sweeps once immediately on start, then on the configured interval.
func (w *RetentionWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "retention",
		"interval", w.interval.String(),
		"window", w.window.String(),
	)

	w.runSweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "retention",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runSweep(ctx)
		}
	}
}

// runSweep executes a single retention sweep.
func (w *RetentionWorker) runSweep(ctx context.Context) {
	start := time.Now()
	cutoff := start.Add(-w.window)

	slog.Debug("retention sweep started",
		"component", "worker",
		"action", "sweep_start",
		"cutoff", cutoff.Format(time.RFC3339),
	)

	purged, err := w.store.PurgeSyncedBefore(cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("retention sweep failed",
			"component", "worker",
			"action", "sweep_failed",
			"error", err,
		)
		return
	}

	duration := time.Since(start)
	slog.Info("retention sweep completed",
		"component", "worker",
		"action", "sweep_complete",
		"purged", purged,
		"duration_ms", duration.Milliseconds(),
	)
}
