// Package ingest accepts measurement batches from field devices,
// validates them against the device registry, appends them to the reading
// store and advances device liveness.
package ingest

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/villagegrid/telemetryd/pkg/registry"
	"github.com/villagegrid/telemetryd/pkg/store"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// Notifier receives accepted readings for asynchronous aggregation.
type Notifier interface {
	NotifyReading(r telemetry.Reading)
	NotifyReplaced(r telemetry.Reading)
}

// Broadcaster pushes accepted readings to live subscribers. May be nil.
type Broadcaster interface {
	BroadcastReading(r telemetry.Reading)
}

// Service is the ingestion service.
type Service struct {
	registry *registry.Registry
	store    store.Store
	notifier Notifier
	hub      Broadcaster
	log      *zap.Logger
}

// NewService creates the ingestion service. hub may be nil.
func NewService(reg *registry.Registry, st store.Store, notifier Notifier, hub Broadcaster, log *zap.Logger) *Service {
	return &Service{
		registry: reg,
		store:    st,
		notifier: notifier,
		hub:      hub,
		log:      log,
	}
}

// Ingest validates and stores one measurement. The append happens before
// the liveness update, so a status change is never observable before the
// data it describes is durable. ts == nil means "server-assigned now";
// a caller-supplied timestamp is used as-is.
func (s *Service) Ingest(ctx context.Context, deviceID string, ts *time.Time, metrics telemetry.Metrics) (telemetry.Reading, error) {
	if deviceID == "" {
		return telemetry.Reading{}, telemetry.Validationf("deviceId is required")
	}

	// Ingestion never auto-creates devices.
	device, err := s.registry.Get(ctx, deviceID)
	if err != nil {
		return telemetry.Reading{}, err
	}

	if len(metrics) == 0 {
		return telemetry.Reading{}, telemetry.Validationf("metrics must be a non-empty map")
	}
	if rejected := rejectedFields(&device, metrics); len(rejected) > 0 {
		return telemetry.Reading{}, telemetry.Validationf(
			"metric fields not declared by device schema: %s", strings.Join(rejected, ", "))
	}

	timestamp := time.Now().UTC()
	if ts != nil {
		timestamp = ts.UTC()
	}

	reading := telemetry.Reading{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Timestamp: timestamp,
		Metrics:   metrics,
	}

	replaced, err := s.store.Append(ctx, reading)
	if err != nil {
		return telemetry.Reading{}, telemetry.Storagef("append reading", err)
	}

	if err := s.registry.MarkSeen(ctx, deviceID, timestamp); err != nil {
		// The reading is durable; surface the liveness failure anyway so
		// the device retries rather than silently drifting OFFLINE.
		return telemetry.Reading{}, telemetry.Storagef("mark seen", err)
	}

	if replaced {
		s.notifier.NotifyReplaced(reading)
	} else {
		s.notifier.NotifyReading(reading)
	}
	if s.hub != nil {
		s.hub.BroadcastReading(reading)
	}

	s.log.Debug("reading ingested",
		zap.String("device_id", deviceID),
		zap.Time("timestamp", timestamp),
		zap.Bool("replaced", replaced))
	return reading, nil
}

// rejectedFields returns metric keys outside the device's declared
// numeric-field allowlist. An empty schema allows everything.
func rejectedFields(device *telemetry.Device, metrics telemetry.Metrics) []string {
	if len(device.Schema) == 0 {
		return nil
	}
	var rejected []string
	for key := range metrics {
		if !device.AllowsField(key) {
			rejected = append(rejected, key)
		}
	}
	sort.Strings(rejected)
	return rejected
}
