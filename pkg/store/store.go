package store

import (
	"context"
	"errors"
	"time"

	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// MaxResultLimit is the hard cap on rows returned by a single query,
// regardless of the caller-requested limit.
const MaxResultLimit = 1000

// ErrActivePartition is returned by Compress and Drop when the target
// partition is still the active write target.
var ErrActivePartition = errors.New("partition is the active write target")

// QueryRequest specifies which readings to retrieve. Results are ordered
// by timestamp descending.
type QueryRequest struct {
	DeviceID string
	Start    time.Time
	End      time.Time

	// Limit caps the result size; values <= 0 or above MaxResultLimit
	// are clamped to MaxResultLimit.
	Limit int
}

// PartitionInfo describes one time partition of the store.
type PartitionInfo struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Compressed bool      `json:"compressed"`
	Readings   int64     `json:"readings"`
}

// Stats provides store health and usage info.
type Stats struct {
	TotalReadings        uint64    `json:"totalReadings"`
	TotalDevices         uint64    `json:"totalDevices"`
	Partitions           int       `json:"partitions"`
	CompressedPartitions int       `json:"compressedPartitions"`
	SizeBytes            uint64    `json:"sizeBytes"`
	OldestReading        time.Time `json:"oldestReading,omitempty"`
	NewestReading        time.Time `json:"newestReading,omitempty"`
}

// Store is the append-only, time-partitioned reading store.
// Implementations: memory (testing), badger (production).
type Store interface {
	// Append stores one reading in the partition its timestamp falls
	// into. A reading already stored for the same (deviceID, timestamp)
	// is overwritten; replaced reports whether that happened.
	Append(ctx context.Context, r telemetry.Reading) (replaced bool, err error)

	// Query retrieves readings in [Start, End], newest first.
	Query(ctx context.Context, req QueryRequest) ([]telemetry.Reading, error)

	// DeleteDevice removes every reading of a device across all
	// partitions. Used by the registry's cascade delete.
	DeleteDevice(ctx context.Context, deviceID string) (int64, error)

	// CountByDevice returns the number of stored readings per device.
	CountByDevice(ctx context.Context) (map[string]int64, error)

	// Partitions lists partition metadata, oldest first.
	Partitions(ctx context.Context) ([]PartitionInfo, error)

	// Compress rewrites the identified partition into its compressed
	// representation. Query results are unaffected. Compressing an
	// already-compressed partition is a no-op; compressing the active
	// partition fails with ErrActivePartition.
	Compress(ctx context.Context, start time.Time) error

	// Drop deletes a whole partition. Dropping a missing partition is a
	// no-op; dropping the active partition fails with ErrActivePartition.
	Drop(ctx context.Context, start time.Time) error

	// Stats returns store statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the store.
	Close() error
}

// PartitionStart truncates ts to the start of its partition. Partitions
// are aligned to multiples of width since the Unix epoch, in UTC.
func PartitionStart(ts time.Time, width time.Duration) time.Time {
	return ts.UTC().Truncate(width)
}

// PartitionEnd returns the exclusive end of the partition starting at start.
func PartitionEnd(start time.Time, width time.Duration) time.Time {
	return start.Add(width)
}

// ClampLimit applies the hard result cap to a caller-requested limit.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxResultLimit {
		return MaxResultLimit
	}
	return limit
}
