package badger

import (
	"context"
	"testing"
	"time"

	"github.com/villagegrid/telemetryd/pkg/badgerdb"
	"github.com/villagegrid/telemetryd/pkg/rollup"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badgerdb.Open(badgerdb.Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func bucket(deviceID string, hour time.Time, avg float64) rollup.HourlyRollup {
	return rollup.HourlyRollup{
		DeviceID: deviceID,
		Hour:     rollup.HourBucket(hour),
		Field:    "value",
		Avg:      avg, Min: avg, Max: avg, Count: 1,
	}
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hour := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := s.Put(ctx, bucket("dev-1", hour, 21.5)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	r, found, err := s.Get(ctx, "dev-1", hour)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("bucket not found")
	}
	if r.Avg != 21.5 || !r.Hour.Equal(hour) {
		t.Errorf("unexpected rollup: %+v", r)
	}

	// Mid-hour timestamps resolve to the same bucket.
	_, found, err = s.Get(ctx, "dev-1", hour.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Error("mid-hour lookup missed the bucket")
	}

	_, found, _ = s.Get(ctx, "dev-2", hour)
	if found {
		t.Error("found bucket for the wrong device")
	}
}

func TestPut_Replaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hour := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.Put(ctx, bucket("dev-1", hour, 1))
	s.Put(ctx, bucket("dev-1", hour, 2))

	r, _, err := s.Get(ctx, "dev-1", hour)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if r.Avg != 2 {
		t.Errorf("expected replacement, got avg %v", r.Avg)
	}
}

func TestRange_OldestFirstInclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		s.Put(ctx, bucket("dev-1", base.Add(time.Duration(i)*time.Hour), float64(i)))
	}
	s.Put(ctx, bucket("dev-2", base, 99))

	out, err := s.Range(ctx, "dev-1", base.Add(time.Hour), base.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 buckets, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if !out[i].Hour.After(out[i-1].Hour) {
			t.Error("range not oldest-first")
		}
	}
	if out[0].Avg != 1 || out[3].Avg != 4 {
		t.Errorf("range boundaries not inclusive: %+v", out)
	}
}

func TestDeleteBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Put(ctx, bucket("dev-1", base.Add(time.Duration(i)*time.Hour), float64(i)))
	}

	deleted, err := s.DeleteBefore(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	out, _ := s.Range(ctx, "dev-1", base, base.Add(5*time.Hour))
	if len(out) != 3 {
		t.Errorf("expected 3 surviving buckets, got %d", len(out))
	}
	// The bucket exactly at the cutoff survives.
	if !out[0].Hour.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("cutoff bucket dropped: %v", out[0].Hour)
	}
}

func TestDeleteDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	s.Put(ctx, bucket("dev-1", base, 1))
	s.Put(ctx, bucket("dev-1", base.Add(time.Hour), 2))
	s.Put(ctx, bucket("dev-2", base, 3))

	deleted, err := s.DeleteDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("DeleteDevice failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	out, _ := s.Range(ctx, "dev-2", base, base.Add(time.Hour))
	if len(out) != 1 {
		t.Errorf("dev-2 buckets affected: %d", len(out))
	}
}
