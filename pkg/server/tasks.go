package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/villagegrid/telemetryd/pkg/config"
	"github.com/villagegrid/telemetryd/pkg/lifecycle"
	"github.com/villagegrid/telemetryd/pkg/registry"
	"github.com/villagegrid/telemetryd/pkg/server/monitor"
)

// RunLifecycle runs the compression and retention sweep periodically.
func RunLifecycle(manager *lifecycle.Manager, sweepMonitor *monitor.SweepMonitor,
	log *zap.Logger, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.LifecycleInterval)
	defer ticker.Stop()

	// Run the sweep with retry and exponential backoff. A failed sweep is
	// retried a few times before waiting for the next schedule; partitions
	// it skipped stay eligible, so nothing is lost by giving up.
	runWithRetry := func(ctx context.Context, isInitial bool) {
		maxRetries := 3
		baseDelay := 30 * time.Second

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := baseDelay * time.Duration(1<<(attempt-1)) // 30s, 60s, 120s
				log.Info("retrying lifecycle sweep",
					zap.Duration("delay", delay),
					zap.Int("attempt", attempt+1),
					zap.Int("max_attempts", maxRetries+1))
				select {
				case <-time.After(delay):
				case <-stop:
					return
				}
			}

			start := time.Now()
			err := manager.Run(ctx)

			if err == nil {
				sweepMonitor.RecordSuccess()
				if isInitial {
					log.Info("initial lifecycle sweep completed",
						zap.Duration("took", time.Since(start).Round(time.Millisecond)))
				} else {
					log.Info("lifecycle sweep completed",
						zap.Duration("took", time.Since(start).Round(time.Millisecond)))
				}
				return
			}

			sweepMonitor.RecordFailure(err)
			log.Error("lifecycle sweep failed",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", maxRetries+1),
				zap.Error(err))

			status := sweepMonitor.Status()
			if status.ConsecutiveErrors > 3 {
				log.Error("lifecycle sweep has been failing",
					zap.Int("consecutive_errors", status.ConsecutiveErrors))
			}
		}

		log.Warn("lifecycle sweep failed, will retry on next schedule",
			zap.Int("attempts", maxRetries+1))
	}

	// Run once on startup (non-blocking)
	go func() {
		log.Info("running initial lifecycle sweep")
		runWithRetry(context.Background(), true)
	}()

	for {
		select {
		case <-ticker.C:
			runWithRetry(context.Background(), false)
		case <-stop:
			log.Info("stopping lifecycle scheduler")
			return
		}
	}
}

// RunHeartbeatSweep periodically demotes devices that have stopped reporting.
func RunHeartbeatSweep(reg *registry.Registry, log *zap.Logger,
	stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.HeartbeatSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			demoted, err := reg.DemoteStale(context.Background(), time.Now())
			if err != nil {
				log.Error("heartbeat sweep failed", zap.Error(err))
				continue
			}
			if demoted > 0 {
				log.Info("devices marked offline", zap.Int("count", demoted))
			}
		case <-stop:
			log.Info("stopping heartbeat sweeper")
			return
		}
	}
}

// RunBadgerGC runs BadgerDB value log garbage collection periodically.
// Deleted readings accumulate in the value log until GC rewrites it.
func (a *App) RunBadgerGC(stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	if a.DB == nil || a.Config.InMemory {
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	a.Log.Info("badger GC scheduler started",
		zap.Duration("interval", config.BadgerGCInterval))

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Reclaim a value log file once at least half of it is garbage.
			// One iteration per tick keeps the pause bounded.
			err := a.DB.RunValueLogGC(0.5)
			if err != nil {
				// badger.ErrNoRewrite just means there was nothing to reclaim.
				a.Log.Debug("badger GC completed, no rewrite needed",
					zap.Duration("took", time.Since(start).Round(time.Millisecond)))
			} else {
				a.Log.Info("badger GC reclaimed disk space",
					zap.Duration("took", time.Since(start).Round(time.Millisecond)))
			}
		case <-stop:
			a.Log.Info("stopping badger GC scheduler")
			return
		}
	}
}
