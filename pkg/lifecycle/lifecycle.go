// Package lifecycle enforces the reading store's compression and
// retention policies. Both passes run out-of-band on a schedule, operate
// partition-by-partition and never touch the write path: a failed or
// cancelled pass simply resumes where it left off on the next run.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/villagegrid/telemetryd/pkg/store"
)

// RollupRetainer is the slice of the rollup store the retention pass
// needs. Rollups have their own, longer horizon so they outlive raw rows.
type RollupRetainer interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds the lifecycle policy knobs.
type Config struct {
	// CompressionAge is how old a partition must be before it is
	// compressed in place.
	CompressionAge time.Duration

	// RetentionHorizon is the maximum age of raw data. Partitions whose
	// entire range is older are dropped wholesale.
	RetentionHorizon time.Duration

	// RollupRetention is the independent horizon for derived rollups.
	RollupRetention time.Duration
}

// Manager runs the compression and retention policies.
type Manager struct {
	store   store.Store
	rollups RollupRetainer
	cfg     Config
	log     *zap.Logger

	// Single active sweep per policy; sweeps never overlap themselves.
	compressing atomic.Bool
	retaining   atomic.Bool
}

// New creates a lifecycle manager.
func New(st store.Store, rollups RollupRetainer, cfg Config, log *zap.Logger) *Manager {
	return &Manager{store: st, rollups: rollups, cfg: cfg, log: log}
}

// RunCompression compresses every partition older than the compression
// age. Each partition is its own checkpoint: cancellation between
// partitions leaves the pass resumable, and re-compressing is a no-op.
func (m *Manager) RunCompression(ctx context.Context) error {
	if !m.compressing.CompareAndSwap(false, true) {
		return nil // a compression sweep is already running
	}
	defer m.compressing.Store(false)

	partitions, err := m.store.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}

	cutoff := time.Now().UTC().Add(-m.cfg.CompressionAge)
	var compressed int
	for _, p := range partitions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Compressed || p.End.After(cutoff) {
			continue
		}
		start := time.Now()
		if err := m.store.Compress(ctx, p.Start); err != nil {
			if errors.Is(err, store.ErrActivePartition) {
				continue
			}
			return fmt.Errorf("failed to compress partition %s: %w",
				p.Start.Format(time.RFC3339), err)
		}
		compressed++
		m.log.Info("partition compressed",
			zap.Time("partition", p.Start),
			zap.Int64("readings", p.Readings),
			zap.Duration("took", time.Since(start)))
	}
	if compressed > 0 {
		m.log.Info("compression pass finished", zap.Int("partitions", compressed))
	}
	return nil
}

// RunRetention drops partitions whose entire range is past the retention
// horizon, then applies the rollup horizon. Dropping is partition-level,
// never row-by-row, so a sweep costs O(partitions expired).
func (m *Manager) RunRetention(ctx context.Context) error {
	if !m.retaining.CompareAndSwap(false, true) {
		return nil // a retention sweep is already running
	}
	defer m.retaining.Store(false)

	partitions, err := m.store.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}

	// A partition is dropped only when its exclusive end is at or past
	// the horizon, so a reading exactly at now-horizon is retained.
	horizon := time.Now().UTC().Add(-m.cfg.RetentionHorizon)
	var dropped int
	for _, p := range partitions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.End.After(horizon) {
			continue
		}
		if err := m.store.Drop(ctx, p.Start); err != nil {
			if errors.Is(err, store.ErrActivePartition) {
				continue
			}
			return fmt.Errorf("failed to drop partition %s: %w",
				p.Start.Format(time.RFC3339), err)
		}
		dropped++
		m.log.Info("partition dropped",
			zap.Time("partition", p.Start),
			zap.Int64("readings", p.Readings))
	}

	deleted, err := m.rollups.DeleteBefore(ctx, time.Now().UTC().Add(-m.cfg.RollupRetention))
	if err != nil {
		return fmt.Errorf("rollup retention failed: %w", err)
	}
	if dropped > 0 || deleted > 0 {
		m.log.Info("retention pass finished",
			zap.Int("partitions_dropped", dropped),
			zap.Int64("rollups_deleted", deleted))
	}
	return nil
}

// Run executes one full lifecycle pass: compression, then retention.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.RunCompression(ctx); err != nil {
		return err
	}
	return m.RunRetention(ctx)
}
