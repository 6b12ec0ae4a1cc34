package rollup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/villagegrid/telemetryd/pkg/config"
	"github.com/villagegrid/telemetryd/pkg/store"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// RawQuerier is the slice of the reading store the engine needs to
// recompute a bucket from raw rows.
type RawQuerier interface {
	Query(ctx context.Context, req store.QueryRequest) ([]telemetry.Reading, error)
}

// lockShards bounds the per-bucket mutex table. Updates for the same
// (device, hour) bucket always hit the same shard, which is the one
// mutual-exclusion point on the write path.
const lockShards = 64

// notification is one unit of asynchronous aggregation work.
type notification struct {
	deviceID  string
	timestamp time.Time
	value     float64
	recompute bool
}

// bucketKey identifies one (device, hour) bucket awaiting drift repair.
type bucketKey struct {
	deviceID string
	hour     int64
}

// Engine maintains hourly rollups incrementally. Ingestion notifies it
// fire-and-forget; aggregation lag is tolerated and exactness is
// eventually consistent.
type Engine struct {
	store Store
	raw   RawQuerier
	field string
	log   *zap.Logger

	notifications chan notification
	dropped       atomic.Uint64
	locks         [lockShards]sync.Mutex

	pendingMu sync.Mutex
	pending   map[bucketKey]struct{}
}

// New creates an aggregation engine for the configured numeric field.
func New(rollups Store, raw RawQuerier, field string, log *zap.Logger) *Engine {
	return &Engine{
		store:         rollups,
		raw:           raw,
		field:         field,
		log:           log,
		notifications: make(chan notification, config.IngestNotifyBuffer),
	}
}

// Field returns the aggregated metric field name.
func (e *Engine) Field() string { return e.field }

// NotifyReading queues an accepted reading for aggregation. Never blocks:
// when the buffer is full the bucket is marked for drift repair and the
// sample is picked up by the next RepairDrift pass. Readings without a
// numeric value for the aggregated field are not aggregated.
func (e *Engine) NotifyReading(r telemetry.Reading) {
	value, ok := r.Metrics.Numeric(e.field)
	if !ok {
		return
	}
	e.enqueue(notification{deviceID: r.DeviceID, timestamp: r.Timestamp, value: value})
}

// NotifyReplaced queues a full bucket recompute after an overwrite of an
// existing (device, timestamp) row, since the replaced sample is already
// folded into the incremental aggregate.
func (e *Engine) NotifyReplaced(r telemetry.Reading) {
	e.enqueue(notification{deviceID: r.DeviceID, timestamp: r.Timestamp, recompute: true})
}

func (e *Engine) enqueue(n notification) {
	select {
	case e.notifications <- n:
	default:
		e.markPending(n.deviceID, n.timestamp)
		if dropped := e.dropped.Add(1); dropped%100 == 1 {
			e.log.Warn("rollup notification buffer full, deferring to drift repair",
				zap.Uint64("total_dropped", dropped))
		}
	}
}

func (e *Engine) markPending(deviceID string, ts time.Time) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if e.pending == nil {
		e.pending = make(map[bucketKey]struct{})
	}
	e.pending[bucketKey{deviceID, HourBucket(ts).Unix()}] = struct{}{}
}

// RepairDrift recomputes every bucket that lost a notification to a full
// buffer. Run invokes it periodically; safe to call concurrently.
func (e *Engine) RepairDrift(ctx context.Context) {
	e.pendingMu.Lock()
	buckets := e.pending
	e.pending = nil
	e.pendingMu.Unlock()

	for b := range buckets {
		hour := time.Unix(b.hour, 0).UTC()
		if _, err := e.Recompute(ctx, b.deviceID, hour); err != nil && ctx.Err() == nil {
			e.log.Error("drift repair failed",
				zap.String("device_id", b.deviceID),
				zap.Time("bucket", hour),
				zap.Error(err))
		}
	}
}

// Run consumes notifications until ctx is cancelled. Errors are logged
// and the affected bucket is left to the next recompute; the engine never
// fails the write path.
func (e *Engine) Run(ctx context.Context) {
	repair := time.NewTicker(config.RollupRepairInterval)
	defer repair.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-repair.C:
			e.RepairDrift(ctx)
		case n := <-e.notifications:
			var err error
			if n.recompute {
				_, err = e.Recompute(ctx, n.deviceID, n.timestamp)
			} else {
				err = e.Apply(ctx, n.deviceID, n.timestamp, n.value)
			}
			if err != nil && ctx.Err() == nil {
				e.log.Error("rollup update failed",
					zap.String("device_id", n.deviceID),
					zap.Time("bucket", HourBucket(n.timestamp)),
					zap.Error(err))
			}
		}
	}
}

// Apply folds one sample into its (device, hour) bucket. Concurrent
// updates for the same bucket serialize on the bucket's lock shard.
func (e *Engine) Apply(ctx context.Context, deviceID string, ts time.Time, value float64) error {
	hour := HourBucket(ts)

	lock := e.bucketLock(deviceID, hour)
	lock.Lock()
	defer lock.Unlock()

	r, ok, err := e.store.Get(ctx, deviceID, hour)
	if err != nil {
		return err
	}
	if !ok {
		r = HourlyRollup{DeviceID: deviceID, Hour: hour, Field: e.field}
	}
	return e.store.Put(ctx, observe(r, value))
}

// Recompute rebuilds one bucket from raw rows. Used after overwrites and
// as the drift-repair path; a bucket whose raw rows are gone is left
// untouched so rollups outlive raw retention.
func (e *Engine) Recompute(ctx context.Context, deviceID string, ts time.Time) (HourlyRollup, error) {
	hour := HourBucket(ts)

	lock := e.bucketLock(deviceID, hour)
	lock.Lock()
	defer lock.Unlock()

	rebuilt := HourlyRollup{DeviceID: deviceID, Hour: hour, Field: e.field}
	end := hour.Add(time.Hour - time.Nanosecond)

	// The store caps result sizes, so page through the bucket by moving
	// the window end below the oldest row seen.
	for {
		rows, err := e.raw.Query(ctx, store.QueryRequest{
			DeviceID: deviceID,
			Start:    hour,
			End:      end,
			Limit:    store.MaxResultLimit,
		})
		if err != nil {
			return HourlyRollup{}, err
		}
		for _, row := range rows {
			if value, ok := row.Metrics.Numeric(e.field); ok {
				rebuilt = observe(rebuilt, value)
			}
		}
		if len(rows) < store.MaxResultLimit {
			break
		}
		end = rows[len(rows)-1].Timestamp.Add(-time.Nanosecond)
	}

	if rebuilt.Count == 0 {
		// No raw rows left for this hour; keep the existing rollup.
		existing, ok, err := e.store.Get(ctx, deviceID, hour)
		if err != nil {
			return HourlyRollup{}, err
		}
		if ok {
			return existing, nil
		}
		return rebuilt, nil
	}

	if err := e.store.Put(ctx, rebuilt); err != nil {
		return HourlyRollup{}, err
	}
	return rebuilt, nil
}

// Rollups returns a device's buckets in [fromHour, toHour] without
// touching raw partitions.
func (e *Engine) Rollups(ctx context.Context, deviceID string, fromHour, toHour time.Time) ([]HourlyRollup, error) {
	return e.store.Range(ctx, deviceID, fromHour, toHour)
}

// Dropped returns the number of notifications lost to a full buffer.
func (e *Engine) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *Engine) bucketLock(deviceID string, hour time.Time) *sync.Mutex {
	shard := (xxhash.Sum64String(deviceID) ^ uint64(hour.Unix())) % lockShards
	return &e.locks[shard]
}
