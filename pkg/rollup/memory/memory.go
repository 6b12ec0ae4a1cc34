// Package memory implements the rollup store in process memory. Useful
// for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/villagegrid/telemetryd/pkg/rollup"
)

type bucketKey struct {
	deviceID string
	hour     int64
}

// Store is the in-memory rollup store.
type Store struct {
	mu      sync.RWMutex
	buckets map[bucketKey]rollup.HourlyRollup
}

// New creates an in-memory rollup store.
func New() *Store {
	return &Store{buckets: make(map[bucketKey]rollup.HourlyRollup)}
}

// Get retrieves one bucket.
func (s *Store) Get(ctx context.Context, deviceID string, hour time.Time) (rollup.HourlyRollup, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.buckets[bucketKey{deviceID, rollup.HourBucket(hour).Unix()}]
	return r, ok, nil
}

// Put creates or replaces one bucket.
func (s *Store) Put(ctx context.Context, r rollup.HourlyRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets[bucketKey{r.DeviceID, rollup.HourBucket(r.Hour).Unix()}] = r
	return nil
}

// Range returns a device's buckets in [from, to], oldest first.
func (s *Store) Range(ctx context.Context, deviceID string, from, to time.Time) ([]rollup.HourlyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []rollup.HourlyRollup
	for key, r := range s.buckets {
		if key.deviceID != deviceID {
			continue
		}
		if r.Hour.Before(rollup.HourBucket(from)) || r.Hour.After(rollup.HourBucket(to)) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	return out, nil
}

// DeleteBefore removes buckets older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, r := range s.buckets {
		if r.Hour.Before(cutoff) {
			delete(s.buckets, key)
			deleted++
		}
	}
	return deleted, nil
}

// DeleteDevice removes all buckets of one device.
func (s *Store) DeleteDevice(ctx context.Context, deviceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key := range s.buckets {
		if key.deviceID == deviceID {
			delete(s.buckets, key)
			deleted++
		}
	}
	return deleted, nil
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}
