// Package memory implements the reading store in process memory. Data is
// lost on restart. Useful for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/villagegrid/telemetryd/pkg/store"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// partition holds one time range of readings. Uncompressed partitions keep
// per-device row slices sorted newest-first; compressed partitions keep
// per-device encoded blocks instead.
type partition struct {
	start      time.Time
	compressed bool
	rows       map[string][]telemetry.Reading
	blocks     map[string][]byte
	counts     map[string]int64
}

// Store is the in-memory reading store.
type Store struct {
	width time.Duration

	mu         sync.RWMutex
	partitions map[int64]*partition
}

// New creates an in-memory reading store with the given partition width.
func New(width time.Duration) *Store {
	return &Store{
		width:      width,
		partitions: make(map[int64]*partition),
	}
}

// Append stores one reading, overwriting any reading with the identical
// (deviceID, timestamp). Appends into compressed partitions decompress and
// recompress the device's block; allowed, but slow by design.
func (s *Store) Append(ctx context.Context, r telemetry.Reading) (bool, error) {
	if r.DeviceID == "" || r.Timestamp.IsZero() {
		return false, fmt.Errorf("reading missing device ID or timestamp")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := store.PartitionStart(r.Timestamp, s.width)
	p, ok := s.partitions[start.Unix()]
	if !ok {
		p = &partition{
			start:  start,
			rows:   make(map[string][]telemetry.Reading),
			blocks: make(map[string][]byte),
			counts: make(map[string]int64),
		}
		s.partitions[start.Unix()] = p
	}

	if p.compressed {
		rows, err := s.blockRows(p, r.DeviceID)
		if err != nil {
			return false, err
		}
		rows, replaced := store.InsertDesc(rows, r)
		block, err := store.EncodeBlock(rows)
		if err != nil {
			return false, err
		}
		p.blocks[r.DeviceID] = block
		if !replaced {
			p.counts[r.DeviceID]++
		}
		return replaced, nil
	}

	rows, replaced := store.InsertDesc(p.rows[r.DeviceID], r)
	p.rows[r.DeviceID] = rows
	if !replaced {
		p.counts[r.DeviceID]++
	}
	return replaced, nil
}

// Query retrieves readings in [Start, End], newest first, capped at the
// hard result limit.
func (s *Store) Query(ctx context.Context, req store.QueryRequest) ([]telemetry.Reading, error) {
	limit := store.ClampLimit(req.Limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []telemetry.Reading
	for _, p := range s.partitionsDesc() {
		end := store.PartitionEnd(p.start, s.width)
		if !req.Start.IsZero() && end.Before(req.Start) {
			break // partitions are newest-first; everything older is out of range
		}
		if !req.End.IsZero() && p.start.After(req.End) {
			continue
		}

		rows, err := s.deviceRows(p, req.DeviceID)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if !req.End.IsZero() && r.Timestamp.After(req.End) {
				continue
			}
			if !req.Start.IsZero() && r.Timestamp.Before(req.Start) {
				break // rows are newest-first within a partition
			}
			results = append(results, r)
			if len(results) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// DeleteDevice removes every reading of a device across all partitions.
func (s *Store) DeleteDevice(ctx context.Context, deviceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, p := range s.partitions {
		deleted += p.counts[deviceID]
		delete(p.rows, deviceID)
		delete(p.blocks, deviceID)
		delete(p.counts, deviceID)
	}
	return deleted, nil
}

// CountByDevice returns the number of stored readings per device.
func (s *Store) CountByDevice(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, p := range s.partitions {
		for id, n := range p.counts {
			counts[id] += n
		}
	}
	return counts, nil
}

// Partitions lists partition metadata, oldest first.
func (s *Store) Partitions(ctx context.Context) ([]store.PartitionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]store.PartitionInfo, 0, len(s.partitions))
	for _, p := range s.partitions {
		var rows int64
		for _, n := range p.counts {
			rows += n
		}
		infos = append(infos, store.PartitionInfo{
			Start:      p.start,
			End:        store.PartitionEnd(p.start, s.width),
			Compressed: p.compressed,
			Readings:   rows,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Start.Before(infos[j].Start) })
	return infos, nil
}

// Compress rewrites a partition's row slices into per-device compressed
// blocks. Idempotent; refuses the active partition.
func (s *Store) Compress(ctx context.Context, start time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[start.Unix()]
	if !ok || p.compressed {
		return nil
	}
	if s.isActive(p.start) {
		return store.ErrActivePartition
	}

	for id, rows := range p.rows {
		block, err := store.EncodeBlock(rows)
		if err != nil {
			return err
		}
		p.blocks[id] = block
	}
	p.rows = make(map[string][]telemetry.Reading)
	p.compressed = true
	return nil
}

// Drop deletes a whole partition. Idempotent; refuses the active partition.
func (s *Store) Drop(ctx context.Context, start time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[start.Unix()]
	if !ok {
		return nil
	}
	if s.isActive(p.start) {
		return store.ErrActivePartition
	}
	delete(s.partitions, start.Unix())
	return nil
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &store.Stats{Partitions: len(s.partitions)}
	devices := make(map[string]bool)
	for _, p := range s.partitions {
		if p.compressed {
			stats.CompressedPartitions++
		}
		for id, n := range p.counts {
			devices[id] = true
			stats.TotalReadings += uint64(n)
		}
		end := store.PartitionEnd(p.start, s.width)
		if stats.OldestReading.IsZero() || p.start.Before(stats.OldestReading) {
			stats.OldestReading = p.start
		}
		if end.After(stats.NewestReading) {
			stats.NewestReading = end
		}
	}
	stats.TotalDevices = uint64(len(devices))
	// Rough size estimate (each reading ~150 bytes)
	stats.SizeBytes = stats.TotalReadings * 150
	return stats, nil
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}

// isActive reports whether the partition starting at start is the current
// write target. Callers hold s.mu.
func (s *Store) isActive(start time.Time) bool {
	return start.Equal(store.PartitionStart(time.Now(), s.width))
}

// partitionsDesc returns partitions newest-first. Callers hold s.mu.
func (s *Store) partitionsDesc() []*partition {
	parts := make([]*partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].start.After(parts[j].start) })
	return parts
}

// deviceRows returns a device's rows for a partition, decoding the
// compressed block when needed. Callers hold s.mu at least for reading.
func (s *Store) deviceRows(p *partition, deviceID string) ([]telemetry.Reading, error) {
	if !p.compressed {
		return p.rows[deviceID], nil
	}
	return s.blockRows(p, deviceID)
}

func (s *Store) blockRows(p *partition, deviceID string) ([]telemetry.Reading, error) {
	block, ok := p.blocks[deviceID]
	if !ok {
		return nil, nil
	}
	return store.DecodeBlock(block)
}
