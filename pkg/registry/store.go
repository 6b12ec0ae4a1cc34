package registry

import (
	"context"
	"time"

	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// Filter selects devices for listing. Zero values mean "no filter".
type Filter struct {
	Type   string
	Status telemetry.DeviceStatus
	Page   int // 1-based
	Limit  int
}

// DeviceStore persists device identity, attributes and liveness state.
// Implementations: memory (testing), badger (production).
type DeviceStore interface {
	// Create stores a new device. Fails if the ID already exists.
	Create(ctx context.Context, d telemetry.Device) error

	// Get retrieves a device, or a NotFoundError.
	Get(ctx context.Context, id string) (telemetry.Device, error)

	// Put replaces a stored device. Fails with NotFoundError if unknown.
	Put(ctx context.Context, d telemetry.Device) error

	// Delete removes a device. Fails with NotFoundError if unknown.
	Delete(ctx context.Context, id string) error

	// List returns one page of devices matching the filter, ordered by
	// creation time, plus the total match count.
	List(ctx context.Context, f Filter) ([]telemetry.Device, int, error)

	// MarkSeen atomically sets status ONLINE and advances lastSeen to
	// max(current, ts). A stale ts never moves lastSeen backward or
	// flips status; last writer by timestamp wins, not by arrival order.
	MarkSeen(ctx context.Context, id string, ts time.Time) (telemetry.Device, error)

	// DemoteStale flips ONLINE devices whose lastSeen is before cutoff
	// to OFFLINE and returns their IDs.
	DemoteStale(ctx context.Context, cutoff time.Time) ([]string, error)

	// Close cleanly shuts down the store.
	Close() error
}
