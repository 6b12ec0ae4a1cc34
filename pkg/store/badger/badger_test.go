package badger

import (
	"context"
	"testing"
	"time"

	"github.com/villagegrid/telemetryd/pkg/badgerdb"
	"github.com/villagegrid/telemetryd/pkg/store"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

const week = 7 * 24 * time.Hour

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badgerdb.Open(badgerdb.Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, week)
}

func reading(deviceID string, ts time.Time, value float64) telemetry.Reading {
	return telemetry.Reading{
		ID:        "r-" + ts.Format(time.RFC3339Nano),
		DeviceID:  deviceID,
		Timestamp: ts,
		Metrics:   telemetry.Metrics{"value": value},
	}
}

func TestAppendAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{time.Minute, 3 * time.Minute, 0, 2 * time.Minute} {
		if _, err := s.Append(ctx, reading("dev-1", base.Add(offset), float64(offset))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	// Another device in the same partition must not leak into results.
	if _, err := s.Append(ctx, reading("dev-2", base, 42)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	results, err := s.Query(ctx, store.QueryRequest{
		DeviceID: "dev-1",
		Start:    base.Add(-time.Hour),
		End:      base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 readings, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Timestamp.After(results[i-1].Timestamp) {
			t.Errorf("results not newest-first at index %d", i)
		}
	}
	for _, r := range results {
		if r.DeviceID != "dev-1" {
			t.Errorf("got reading for device %s", r.DeviceID)
		}
	}
}

func TestAppend_DuplicateTimestampOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	replaced, err := s.Append(ctx, reading("dev-1", ts, 10))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if replaced {
		t.Error("first append reported replaced")
	}

	replaced, err = s.Append(ctx, reading("dev-1", ts, 99))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !replaced {
		t.Error("duplicate append did not report replaced")
	}

	results, err := s.Query(ctx, store.QueryRequest{
		DeviceID: "dev-1",
		Start:    ts.Add(-time.Minute),
		End:      ts.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(results))
	}
	if v, _ := results[0].Metrics.Numeric("value"); v != 99 {
		t.Errorf("expected last write to win, got %v", v)
	}
}

func TestCompress_QueryInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		if _, err := s.Append(ctx, reading("dev-1", base.Add(time.Duration(i)*time.Minute), float64(i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		if _, err := s.Append(ctx, reading("dev-2", base.Add(time.Duration(i)*time.Minute), float64(i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	req := store.QueryRequest{
		DeviceID: "dev-1",
		Start:    base.Add(-time.Hour),
		End:      base.Add(2 * time.Hour),
	}
	before, err := s.Query(ctx, req)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	start := store.PartitionStart(base, week)
	if err := s.Compress(ctx, start); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if err := s.Compress(ctx, start); err != nil {
		t.Fatalf("recompress failed: %v", err)
	}

	after, err := s.Query(ctx, req)
	if err != nil {
		t.Fatalf("Query after compress failed: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("compression changed result count: %d != %d", len(after), len(before))
	}
	for i := range after {
		if !after[i].Timestamp.Equal(before[i].Timestamp) {
			t.Fatalf("compression changed result order at index %d", i)
		}
	}

	infos, err := s.Partitions(ctx)
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	if len(infos) != 1 || !infos[0].Compressed {
		t.Error("partition not marked compressed")
	}
	if infos[0].Readings != 50 {
		t.Errorf("expected 50 readings in partition, got %d", infos[0].Readings)
	}
}

func TestAppend_IntoCompressedPartition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	if _, err := s.Append(ctx, reading("dev-1", base, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Compress(ctx, store.PartitionStart(base, week)); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	// Late arrival into the compressed partition.
	if _, err := s.Append(ctx, reading("dev-1", base.Add(-time.Hour), 2)); err != nil {
		t.Fatalf("Append into compressed partition failed: %v", err)
	}
	// Overwrite of an already-compressed row.
	replaced, err := s.Append(ctx, reading("dev-1", base, 7))
	if err != nil {
		t.Fatalf("overwrite into compressed partition failed: %v", err)
	}
	if !replaced {
		t.Error("overwrite did not report replaced")
	}

	results, err := s.Query(ctx, store.QueryRequest{
		DeviceID: "dev-1",
		Start:    base.Add(-2 * time.Hour),
		End:      base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(results))
	}
	if v, _ := results[0].Metrics.Numeric("value"); v != 7 {
		t.Errorf("expected overwritten value 7, got %v", v)
	}
}

func TestQuery_HardLimitCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < store.MaxResultLimit+50; i++ {
		if _, err := s.Append(ctx, reading("dev-1", base.Add(time.Duration(i)*time.Second), float64(i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	results, err := s.Query(ctx, store.QueryRequest{
		DeviceID: "dev-1",
		Start:    base,
		End:      base.Add(time.Hour),
		Limit:    5000,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != store.MaxResultLimit {
		t.Errorf("expected %d results, got %d", store.MaxResultLimit, len(results))
	}
}

func TestDrop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	s.Append(ctx, reading("dev-1", old, 1))
	s.Append(ctx, reading("dev-1", recent, 2))

	if err := s.Drop(ctx, store.PartitionStart(old, week)); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	if err := s.Drop(ctx, store.PartitionStart(old, week)); err != nil {
		t.Fatalf("second Drop failed: %v", err)
	}

	infos, err := s.Partitions(ctx)
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 partition after drop, got %d", len(infos))
	}
	if !infos[0].Start.Equal(store.PartitionStart(recent, week)) {
		t.Error("wrong partition dropped")
	}
}

func TestActivePartitionRefusal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if _, err := s.Append(ctx, reading("dev-1", now, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	active := store.PartitionStart(now, week)
	if err := s.Compress(ctx, active); err != store.ErrActivePartition {
		t.Errorf("Compress on active partition: got %v", err)
	}
	if err := s.Drop(ctx, active); err != store.ErrActivePartition {
		t.Errorf("Drop on active partition: got %v", err)
	}
}

func TestDeleteDevice_AcrossRepresentations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Append(ctx, reading("dev-1", old.Add(time.Duration(i)*time.Minute), 1))
		s.Append(ctx, reading("dev-1", recent.Add(time.Duration(i)*time.Minute), 1))
		s.Append(ctx, reading("dev-2", recent.Add(time.Duration(i)*time.Minute), 2))
	}
	if err := s.Compress(ctx, store.PartitionStart(old, week)); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	deleted, err := s.DeleteDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("DeleteDevice failed: %v", err)
	}
	if deleted != 10 {
		t.Errorf("expected 10 deleted, got %d", deleted)
	}

	counts, err := s.CountByDevice(ctx)
	if err != nil {
		t.Fatalf("CountByDevice failed: %v", err)
	}
	if counts["dev-1"] != 0 {
		t.Errorf("dev-1 still has %d readings", counts["dev-1"])
	}
	if counts["dev-2"] != 5 {
		t.Errorf("dev-2 lost readings: %d", counts["dev-2"])
	}
}

func TestCountByDevice_MixedRepresentations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		s.Append(ctx, reading("dev-1", old.Add(time.Duration(i)*time.Minute), 1))
	}
	for i := 0; i < 3; i++ {
		s.Append(ctx, reading("dev-1", recent.Add(time.Duration(i)*time.Minute), 1))
	}
	if err := s.Compress(ctx, store.PartitionStart(old, week)); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	counts, err := s.CountByDevice(ctx)
	if err != nil {
		t.Fatalf("CountByDevice failed: %v", err)
	}
	if counts["dev-1"] != 10 {
		t.Errorf("expected 10 readings counted, got %d", counts["dev-1"])
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalReadings != 10 || stats.TotalDevices != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.CompressedPartitions != 1 {
		t.Errorf("expected 1 compressed partition, got %d", stats.CompressedPartitions)
	}
}
