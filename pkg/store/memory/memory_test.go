package memory

import (
	"context"
	"testing"
	"time"

	"github.com/villagegrid/telemetryd/pkg/store"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

const week = 7 * 24 * time.Hour

func reading(deviceID string, ts time.Time, value float64) telemetry.Reading {
	return telemetry.Reading{
		ID:        "r-" + ts.Format(time.RFC3339Nano),
		DeviceID:  deviceID,
		Timestamp: ts,
		Metrics:   telemetry.Metrics{"value": value},
	}
}

func TestAppend_RejectsIncompleteReading(t *testing.T) {
	s := New(week)
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Append(ctx, telemetry.Reading{DeviceID: "dev-1"}); err == nil {
		t.Error("expected error for reading without timestamp")
	}
	if _, err := s.Append(ctx, reading("", time.Now(), 1)); err == nil {
		t.Error("expected error for reading without device ID")
	}
}

func TestQuery_NewestFirst(t *testing.T) {
	s := New(week)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Append out of order
	for _, offset := range []time.Duration{2 * time.Minute, 0, 4 * time.Minute, 1 * time.Minute, 3 * time.Minute} {
		if _, err := s.Append(ctx, reading("dev-1", base.Add(offset), float64(offset))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	results, err := s.Query(ctx, store.QueryRequest{
		DeviceID: "dev-1",
		Start:    base.Add(-time.Hour),
		End:      base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 readings, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Timestamp.After(results[i-1].Timestamp) {
			t.Errorf("results not newest-first at index %d", i)
		}
	}
}

func TestQuery_HardLimitCap(t *testing.T) {
	s := New(week)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < store.MaxResultLimit+200; i++ {
		if _, err := s.Append(ctx, reading("dev-1", base.Add(time.Duration(i)*time.Second), float64(i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// A limit far above the cap is clamped, not honored.
	results, err := s.Query(ctx, store.QueryRequest{
		DeviceID: "dev-1",
		Start:    base,
		End:      base.Add(24 * time.Hour),
		Limit:    5000,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != store.MaxResultLimit {
		t.Errorf("expected %d results, got %d", store.MaxResultLimit, len(results))
	}

	// Zero limit gets the same cap.
	results, err = s.Query(ctx, store.QueryRequest{
		DeviceID: "dev-1",
		Start:    base,
		End:      base.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != store.MaxResultLimit {
		t.Errorf("expected %d results for zero limit, got %d", store.MaxResultLimit, len(results))
	}
}

func TestAppend_DuplicateTimestampOverwrites(t *testing.T) {
	s := New(week)
	defer s.Close()
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
		t.Fatalf("expected 1 reading after overwrite, got %d", len(results))
	}
	if v, _ := results[0].Metrics.Numeric("value"); v != 99 {
		t.Errorf("expected last write to win, got value %v", v)
	}
}

func TestPartitionAssignment(t *testing.T) {
	s := New(week)
	defer s.Close()
	ctx := context.Background()

	// Two readings one partition apart, plus one on the exact boundary.
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Truncate(week)
	for _, ts := range []time.Time{t0.Add(time.Hour), t0.Add(week + time.Hour), t0.Add(week)} {
		if _, err := s.Append(ctx, reading("dev-1", ts, 1)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	infos, err := s.Partitions(ctx)
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(infos))
	}
	if !infos[0].Start.Before(infos[1].Start) {
		t.Error("partitions not oldest-first")
	}
	if infos[0].Readings != 1 || infos[1].Readings != 2 {
		t.Errorf("boundary reading landed in the wrong partition: %d/%d",
			infos[0].Readings, infos[1].Readings)
	}
}

func TestCompress_QueryInvariant(t *testing.T) {
	s := New(week)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		if _, err := s.Append(ctx, reading("dev-1", base.Add(time.Duration(i)*time.Minute), float64(i))); err != nil {
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
	// Idempotent
	if err := s.Compress(ctx, start); err != nil {
		t.Fatalf("second Compress failed: %v", err)
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
			t.Errorf("compression changed result order at index %d", i)
		}
	}

	infos, _ := s.Partitions(ctx)
	if len(infos) != 1 || !infos[0].Compressed {
		t.Error("partition not marked compressed")
	}
}

func TestAppend_IntoCompressedPartition(t *testing.T) {
	s := New(week)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	if _, err := s.Append(ctx, reading("dev-1", base, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Compress(ctx, store.PartitionStart(base, week)); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	// Late out-of-order arrival lands in the already-compressed partition.
	if _, err := s.Append(ctx, reading("dev-1", base.Add(-time.Hour), 2)); err != nil {
		t.Fatalf("Append into compressed partition failed: %v", err)
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
		t.Errorf("expected 2 readings, got %d", len(results))
	}
}

func TestCompressAndDrop_RefuseActivePartition(t *testing.T) {
	s := New(week)
	defer s.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	if _, err := s.Append(ctx, reading("dev-1", now, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	active := store.PartitionStart(now, week)
	if err := s.Compress(ctx, active); err != store.ErrActivePartition {
		t.Errorf("Compress on active partition: got %v, want ErrActivePartition", err)
	}
	if err := s.Drop(ctx, active); err != store.ErrActivePartition {
		t.Errorf("Drop on active partition: got %v, want ErrActivePartition", err)
	}
}

func TestDrop_RemovesPartition(t *testing.T) {
	s := New(week)
	defer s.Close()
	ctx := context.Background()

	old := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.Append(ctx, reading("dev-1", old, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	start := store.PartitionStart(old, week)
	if err := s.Drop(ctx, start); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	// Dropping again is a no-op.
	if err := s.Drop(ctx, start); err != nil {
		t.Fatalf("second Drop failed: %v", err)
	}

	results, err := s.Query(ctx, store.QueryRequest{
		DeviceID: "dev-1",
		Start:    old.Add(-time.Hour),
		End:      old.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no readings after drop, got %d", len(results))
	}
}

func TestDeleteDevice_SparesOthers(t *testing.T) {
	s := New(week)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s.Append(ctx, reading("dev-1", base.Add(time.Duration(i)*time.Minute), 1))
		s.Append(ctx, reading("dev-2", base.Add(time.Duration(i)*time.Minute), 2))
	}

	deleted, err := s.DeleteDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("DeleteDevice failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", deleted)
	}

	counts, err := s.CountByDevice(ctx)
	if err != nil {
		t.Fatalf("CountByDevice failed: %v", err)
	}
	if counts["dev-1"] != 0 {
		t.Errorf("dev-1 still has %d readings", counts["dev-1"])
	}
	if counts["dev-2"] != 3 {
		t.Errorf("dev-2 lost readings: %d", counts["dev-2"])
	}
}

func TestStats(t *testing.T) {
	s := New(week)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.Append(ctx, reading("dev-1", base, 1))
	s.Append(ctx, reading("dev-2", base.Add(time.Minute), 2))

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalReadings != 2 {
		t.Errorf("expected 2 readings, got %d", stats.TotalReadings)
	}
	if stats.TotalDevices != 2 {
		t.Errorf("expected 2 devices, got %d", stats.TotalDevices)
	}
	if stats.Partitions != 1 {
		t.Errorf("expected 1 partition, got %d", stats.Partitions)
	}
}
