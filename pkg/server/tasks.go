package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/nicktill/ridership/pkg/monitor"
)

// GCRunner is a store with value-log garbage collection (badger.Store).
type GCRunner interface {
	RunGC(discardRatio float64) error
}

// GCSchedule controls RunBadgerGC.
type GCSchedule struct {
	Interval     time.Duration
	DiscardRatio float64
	MaxRetries   int
	BaseDelay    time.Duration
}

// RunBadgerGC runs value-log GC on every tick until ctx is done. A failed
// pass is retried with exponential backoff (BaseDelay, 2x, 4x, ...) and the
// outcome of every attempt is recorded in gm.
func RunBadgerGC(ctx context.Context, store GCRunner, gm *monitor.GCMonitor, sched GCSchedule, logger *slog.Logger) {
	ticker := time.NewTicker(sched.Interval)
	defer ticker.Stop()

	logger.Info("badger GC scheduler started", "interval", sched.Interval, "discard_ratio", sched.DiscardRatio)

	for {
		select {
		case <-ticker.C:
			runGCWithRetry(ctx, store, gm, sched, logger)
		case <-ctx.Done():
			logger.Info("stopping badger GC scheduler")
			return
		}
	}
}

func runGCWithRetry(ctx context.Context, store GCRunner, gm *monitor.GCMonitor, sched GCSchedule, logger *slog.Logger) {
	for attempt := 0; attempt <= sched.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := sched.BaseDelay * time.Duration(1<<(attempt-1))
			logger.Info("retrying badger GC", "delay", delay, "attempt", attempt+1, "max_attempts", sched.MaxRetries+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		start := time.Now()
		err := store.RunGC(sched.DiscardRatio)
		if err == nil {
			gm.RecordSuccess()
			logger.Debug("badger GC completed", "duration", time.Since(start).Round(time.Millisecond))
			return
		}

		gm.RecordFailure(err)
		logger.Warn("badger GC failed", "attempt", attempt+1, "max_attempts", sched.MaxRetries+1, "error", err)
		if status := gm.Status(); !status.Healthy {
			logger.Error("badger GC keeps failing", "consecutive_errors", status.ConsecutiveErrors)
		}
	}
	logger.Warn("badger GC gave up, will retry on next schedule", "attempts", sched.MaxRetries+1)
}
