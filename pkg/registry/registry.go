// Package registry owns device identity, attributes and liveness state.
package registry

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/villagegrid/telemetryd/pkg/config"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// ReadingCounter is the slice of the reading store the registry needs for
// delete policies and list decoration.
type ReadingCounter interface {
	CountByDevice(ctx context.Context) (map[string]int64, error)
	DeleteDevice(ctx context.Context, deviceID string) (int64, error)
}

// RollupPurger removes a device's rollups on cascade delete.
type RollupPurger interface {
	DeleteDevice(ctx context.Context, deviceID string) (int64, error)
}

// Registry is the device registry service.
type Registry struct {
	store    DeviceStore
	readings ReadingCounter
	rollups  RollupPurger
	policy   config.DeletePolicy
	timeout  time.Duration
	log      *zap.Logger
}

// New creates a registry. readings and rollups back the delete policy and
// reading counts; policy decides whether deletion cascades or is blocked
// while readings exist.
func New(store DeviceStore, readings ReadingCounter, rollups RollupPurger,
	policy config.DeletePolicy, heartbeatTimeout time.Duration, log *zap.Logger) *Registry {
	return &Registry{
		store:    store,
		readings: readings,
		rollups:  rollups,
		policy:   policy,
		timeout:  heartbeatTimeout,
		log:      log,
	}
}

// RegisterParams carries the attributes of a new device.
type RegisterParams struct {
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	VillageID string         `json:"villageId"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Elevation *float64       `json:"elevation,omitempty"`
	Location  string         `json:"location,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	Schema    []string       `json:"schema,omitempty"`
	Firmware  string         `json:"firmware,omitempty"`
}

// Register creates a device with a server-issued ID. New devices start
// OFFLINE with no lastSeen.
func (r *Registry) Register(ctx context.Context, p RegisterParams) (telemetry.Device, error) {
	var missing []string
	if p.Name == "" {
		missing = append(missing, "name")
	}
	if p.Type == "" {
		missing = append(missing, "type")
	}
	if p.VillageID == "" {
		missing = append(missing, "villageId")
	}
	if len(missing) > 0 {
		return telemetry.Device{}, telemetry.Validationf(
			"missing required fields: %s", strings.Join(missing, ", "))
	}

	now := time.Now().UTC()
	d := telemetry.Device{
		ID:        uuid.NewString(),
		Name:      p.Name,
		Type:      p.Type,
		VillageID: p.VillageID,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Elevation: p.Elevation,
		Location:  p.Location,
		Config:    p.Config,
		Schema:    p.Schema,
		Firmware:  p.Firmware,
		Status:    telemetry.StatusOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Create(ctx, d); err != nil {
		return telemetry.Device{}, err
	}
	r.log.Info("device registered",
		zap.String("device_id", d.ID),
		zap.String("type", d.Type),
		zap.String("village_id", d.VillageID))
	return d, nil
}

// UpdatePatch carries a partial attribute update. Nil fields are left
// unchanged.
type UpdatePatch struct {
	Name      *string                `json:"name,omitempty"`
	Type      *string                `json:"type,omitempty"`
	VillageID *string                `json:"villageId,omitempty"`
	Latitude  *float64               `json:"latitude,omitempty"`
	Longitude *float64               `json:"longitude,omitempty"`
	Elevation *float64               `json:"elevation,omitempty"`
	Location  *string                `json:"location,omitempty"`
	Config    map[string]any         `json:"config,omitempty"`
	Schema    []string               `json:"schema,omitempty"`
	Firmware  *string                `json:"firmware,omitempty"`
	Status    *telemetry.DeviceStatus `json:"status,omitempty"`
}

// UpdateAttributes applies a partial update. Only supplied fields change.
func (r *Registry) UpdateAttributes(ctx context.Context, id string, p UpdatePatch) (telemetry.Device, error) {
	d, err := r.store.Get(ctx, id)
	if err != nil {
		return telemetry.Device{}, err
	}

	if p.Name != nil {
		if *p.Name == "" {
			return telemetry.Device{}, telemetry.Validationf("name must not be empty")
		}
		d.Name = *p.Name
	}
	if p.Type != nil {
		if *p.Type == "" {
			return telemetry.Device{}, telemetry.Validationf("type must not be empty")
		}
		d.Type = *p.Type
	}
	if p.VillageID != nil {
		if *p.VillageID == "" {
			return telemetry.Device{}, telemetry.Validationf("villageId must not be empty")
		}
		d.VillageID = *p.VillageID
	}
	if p.Latitude != nil {
		d.Latitude = p.Latitude
	}
	if p.Longitude != nil {
		d.Longitude = p.Longitude
	}
	if p.Elevation != nil {
		d.Elevation = p.Elevation
	}
	if p.Location != nil {
		d.Location = *p.Location
	}
	if p.Config != nil {
		d.Config = p.Config
	}
	if p.Schema != nil {
		d.Schema = p.Schema
	}
	if p.Firmware != nil {
		d.Firmware = *p.Firmware
	}
	if p.Status != nil {
		if !telemetry.ValidStatus(*p.Status) {
			return telemetry.Device{}, telemetry.Validationf("unknown status %q", *p.Status)
		}
		d.Status = *p.Status
	}
	d.UpdatedAt = time.Now().UTC()

	if err := r.store.Put(ctx, d); err != nil {
		return telemetry.Device{}, err
	}
	return d, nil
}

// Get retrieves one device.
func (r *Registry) Get(ctx context.Context, id string) (telemetry.Device, error) {
	return r.store.Get(ctx, id)
}

// DeviceWithCount is a device decorated with its stored reading count.
type DeviceWithCount struct {
	telemetry.Device
	ReadingCount int64 `json:"readingCount"`
}

// List returns one page of devices with their reading counts, plus the
// total match count.
func (r *Registry) List(ctx context.Context, f Filter) ([]DeviceWithCount, int, error) {
	devices, total, err := r.store.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	counts, err := r.readings.CountByDevice(ctx)
	if err != nil {
		return nil, 0, telemetry.Storagef("count readings", err)
	}

	out := make([]DeviceWithCount, len(devices))
	for i, d := range devices {
		out[i] = DeviceWithCount{Device: d, ReadingCount: counts[d.ID]}
	}
	return out, total, nil
}

// MarkSeen records a heartbeat: status ONLINE, lastSeen advanced to
// max(current, ts). Idempotent under reordering.
func (r *Registry) MarkSeen(ctx context.Context, id string, ts time.Time) error {
	_, err := r.store.MarkSeen(ctx, id, ts)
	return err
}

// Delete removes a device according to the configured policy: restrict
// fails with ConflictError while readings exist, cascade removes the
// device's readings and rollups with it.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.store.Get(ctx, id); err != nil {
		return err
	}

	counts, err := r.readings.CountByDevice(ctx)
	if err != nil {
		return telemetry.Storagef("count readings", err)
	}

	if counts[id] > 0 {
		if r.policy == config.DeleteRestrict {
			return telemetry.Conflictf(
				"device %q has %d readings; deletion requires the cascade policy", id, counts[id])
		}
		deleted, err := r.readings.DeleteDevice(ctx, id)
		if err != nil {
			return telemetry.Storagef("cascade readings", err)
		}
		rollups, err := r.rollups.DeleteDevice(ctx, id)
		if err != nil {
			return telemetry.Storagef("cascade rollups", err)
		}
		r.log.Info("cascade delete",
			zap.String("device_id", id),
			zap.Int64("readings", deleted),
			zap.Int64("rollups", rollups))
	}

	return r.store.Delete(ctx, id)
}

// DemoteStale transitions devices to OFFLINE when now - lastSeen exceeds
// the heartbeat timeout. Runs from the background sweep, never from the
// write path.
func (r *Registry) DemoteStale(ctx context.Context, now time.Time) (int, error) {
	demoted, err := r.store.DemoteStale(ctx, now.Add(-r.timeout))
	if err != nil {
		return 0, err
	}
	if len(demoted) > 0 {
		r.log.Info("devices demoted to offline",
			zap.Int("count", len(demoted)),
			zap.Duration("heartbeat_timeout", r.timeout))
	}
	return len(demoted), nil
}
