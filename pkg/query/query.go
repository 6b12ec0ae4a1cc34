// Package query answers bounded-range, paginated reads over raw readings
// and hourly rollups.
package query

import (
	"context"
	"time"

	"github.com/villagegrid/telemetryd/pkg/rollup"
	"github.com/villagegrid/telemetryd/pkg/store"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// Service is the read side of the telemetry pipeline.
type Service struct {
	store  store.Store
	engine *rollup.Engine
}

// NewService creates the query service.
func NewService(st store.Store, engine *rollup.Engine) *Service {
	return &Service{store: st, engine: engine}
}

// Readings returns a device's raw readings in [from, to], newest first.
// The limit is clamped to the store's hard cap regardless of the caller's
// request.
func (s *Service) Readings(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]telemetry.Reading, error) {
	if deviceID == "" {
		return nil, telemetry.Validationf("deviceId is required")
	}
	readings, err := s.store.Query(ctx, store.QueryRequest{
		DeviceID: deviceID,
		Start:    from,
		End:      to,
		Limit:    limit,
	})
	if err != nil {
		return nil, telemetry.Storagef("query readings", err)
	}
	return readings, nil
}

// Rollups returns a device's hourly rollups in [from, to] without
// touching raw partitions.
func (s *Service) Rollups(ctx context.Context, deviceID string, from, to time.Time) ([]rollup.HourlyRollup, error) {
	if deviceID == "" {
		return nil, telemetry.Validationf("deviceId is required")
	}
	rollups, err := s.engine.Rollups(ctx, deviceID, from, to)
	if err != nil {
		return nil, telemetry.Storagef("query rollups", err)
	}
	return rollups, nil
}

// Stats returns reading-store statistics.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, telemetry.Storagef("store stats", err)
	}
	return stats, nil
}
