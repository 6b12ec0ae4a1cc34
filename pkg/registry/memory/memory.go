// Package memory implements the device store in process memory. Useful
// for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/villagegrid/telemetryd/pkg/registry"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// Store is the in-memory device store.
type Store struct {
	mu      sync.RWMutex
	devices map[string]telemetry.Device
}

// New creates an in-memory device store.
func New() *Store {
	return &Store{devices: make(map[string]telemetry.Device)}
}

// Create stores a new device.
func (s *Store) Create(ctx context.Context, d telemetry.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[d.ID]; exists {
		return telemetry.Conflictf("device %q already exists", d.ID)
	}
	s.devices[d.ID] = d
	return nil
}

// Get retrieves a device.
func (s *Store) Get(ctx context.Context, id string) (telemetry.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return telemetry.Device{}, telemetry.NotFound("device", id)
	}
	return d, nil
}

// Put replaces a stored device.
func (s *Store) Put(ctx context.Context, d telemetry.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[d.ID]; !ok {
		return telemetry.NotFound("device", d.ID)
	}
	s.devices[d.ID] = d
	return nil
}

// Delete removes a device.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[id]; !ok {
		return telemetry.NotFound("device", id)
	}
	delete(s.devices, id)
	return nil
}

// List returns one page of matching devices ordered by creation time.
func (s *Store) List(ctx context.Context, f registry.Filter) ([]telemetry.Device, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []telemetry.Device
	for _, d := range s.devices {
		if f.Type != "" && d.Type != f.Type {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		matched = append(matched, d)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = total
	}
	offset := (page - 1) * limit
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// MarkSeen advances liveness state under the store lock, so concurrent
// out-of-order heartbeats resolve to the max timestamp.
func (s *Store) MarkSeen(ctx context.Context, id string, ts time.Time) (telemetry.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return telemetry.Device{}, telemetry.NotFound("device", id)
	}
	if d.LastSeen == nil || ts.After(*d.LastSeen) {
		seen := ts
		d.LastSeen = &seen
		d.UpdatedAt = time.Now().UTC()
	}
	d.Status = telemetry.StatusOnline
	s.devices[id] = d
	return d, nil
}

// DemoteStale flips stale ONLINE devices to OFFLINE.
func (s *Store) DemoteStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var demoted []string
	for id, d := range s.devices {
		if d.Status != telemetry.StatusOnline {
			continue
		}
		if d.LastSeen != nil && !d.LastSeen.Before(cutoff) {
			continue
		}
		d.Status = telemetry.StatusOffline
		d.UpdatedAt = time.Now().UTC()
		s.devices[id] = d
		demoted = append(demoted, id)
	}
	return demoted, nil
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}
