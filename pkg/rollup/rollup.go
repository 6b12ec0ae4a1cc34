// Package rollup maintains hourly aggregates of one configured numeric
// metric field, updated incrementally as readings arrive. Rollups are
// derived data: they outlive raw rows and are the only answer surface for
// coarse-grained queries.
package rollup

import (
	"context"
	"time"
)

// HourlyRollup aggregates one device's readings for one UTC hour bucket.
type HourlyRollup struct {
	DeviceID string    `json:"deviceId"`
	Hour     time.Time `json:"hour"`
	Field    string    `json:"field"`
	Avg      float64   `json:"avg"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	Count    uint64    `json:"count"`
}

// HourBucket truncates ts to the start of its UTC hour.
func HourBucket(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Hour)
}

// Store persists rollups. Implementations: memory (testing), badger
// (production). Buckets are never closed; any bucket may be rewritten.
type Store interface {
	// Get retrieves one bucket, reporting whether it exists.
	Get(ctx context.Context, deviceID string, hour time.Time) (HourlyRollup, bool, error)

	// Put creates or replaces one bucket.
	Put(ctx context.Context, r HourlyRollup) error

	// Range returns a device's buckets in [from, to], oldest first.
	Range(ctx context.Context, deviceID string, from, to time.Time) ([]HourlyRollup, error)

	// DeleteBefore removes buckets older than cutoff across all devices.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteDevice removes all buckets of one device.
	DeleteDevice(ctx context.Context, deviceID string) (int64, error)

	// Close cleanly shuts down the store.
	Close() error
}

// observe folds one sample into a rollup using an incremental mean
// (Welford), which stays numerically stable for long-lived buckets.
func observe(r HourlyRollup, value float64) HourlyRollup {
	if r.Count == 0 {
		r.Avg = value
		r.Min = value
		r.Max = value
		r.Count = 1
		return r
	}
	r.Count++
	r.Avg += (value - r.Avg) / float64(r.Count)
	if value < r.Min {
		r.Min = value
	}
	if value > r.Max {
		r.Max = value
	}
	return r
}
