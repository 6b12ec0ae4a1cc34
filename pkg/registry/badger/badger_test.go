package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/villagegrid/telemetryd/pkg/badgerdb"
	"github.com/villagegrid/telemetryd/pkg/registry"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
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

func device(id string) telemetry.Device {
	now := time.Now().UTC()
	return telemetry.Device{
		ID:        id,
		Name:      "Pump " + id,
		Type:      "water_pump",
		VillageID: "village-1",
		Status:    telemetry.StatusOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, device("dev-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Create(ctx, device("dev-1")); !telemetry.IsConflict(err) {
		t.Errorf("expected conflict on duplicate create, got %v", err)
	}

	d, err := s.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if d.Name != "Pump dev-1" {
		t.Errorf("unexpected device: %+v", d)
	}

	if err := s.Delete(ctx, "dev-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "dev-1"); !telemetry.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := s.Delete(ctx, "dev-1"); !telemetry.IsNotFound(err) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestPut_UnknownDevice(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(context.Background(), device("ghost")); !telemetry.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMarkSeen_ConcurrentMaxWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, device("dev-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.MarkSeen(ctx, "dev-1", base.Add(time.Duration(i)*time.Second)); err != nil {
				t.Errorf("MarkSeen failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	d, err := s.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if d.Status != telemetry.StatusOnline {
		t.Errorf("expected ONLINE, got %s", d.Status)
	}
	want := base.Add(7 * time.Second)
	if d.LastSeen == nil || !d.LastSeen.Equal(want) {
		t.Errorf("expected lastSeen %v, got %v", want, d.LastSeen)
	}
}

func TestMarkSeen_StaleTimestampIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, device("dev-1"))

	newer := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if _, err := s.MarkSeen(ctx, "dev-1", newer); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	d, err := s.MarkSeen(ctx, "dev-1", newer.Add(-time.Hour))
	if err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if d.LastSeen == nil || !d.LastSeen.Equal(newer) {
		t.Errorf("stale heartbeat moved lastSeen: %v", d.LastSeen)
	}
}

func TestList_PaginationAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := device(fmt.Sprintf("dev-%d", i))
		d.CreatedAt = d.CreatedAt.Add(time.Duration(i) * time.Second)
		if i%2 == 0 {
			d.Type = "solar_panel"
		}
		if err := s.Create(ctx, d); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	page, total, err := s.List(ctx, registry.Filter{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Errorf("expected 2 of 5, got %d of %d", len(page), total)
	}
	if page[0].ID != "dev-0" || page[1].ID != "dev-1" {
		t.Errorf("wrong page order: %s, %s", page[0].ID, page[1].ID)
	}

	page, total, err = s.List(ctx, registry.Filter{Page: 3, Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 5 || len(page) != 1 {
		t.Errorf("expected final page of 1, got %d", len(page))
	}

	panels, total, err := s.List(ctx, registry.Filter{Type: "solar_panel"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 3 || len(panels) != 3 {
		t.Errorf("expected 3 panels, got %d of %d", len(panels), total)
	}
}

func TestDemoteStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, device("stale"))
	s.Create(ctx, device("fresh"))
	s.Create(ctx, device("maintenance"))

	now := time.Now().UTC()
	s.MarkSeen(ctx, "stale", now.Add(-time.Hour))
	s.MarkSeen(ctx, "fresh", now.Add(-time.Minute))

	// MAINTENANCE devices are never touched by the sweep.
	m, _ := s.Get(ctx, "maintenance")
	m.Status = telemetry.StatusMaintenance
	s.Put(ctx, m)

	demoted, err := s.DemoteStale(ctx, now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("DemoteStale failed: %v", err)
	}
	if len(demoted) != 1 || demoted[0] != "stale" {
		t.Errorf("expected only the stale device demoted, got %v", demoted)
	}

	d, _ := s.Get(ctx, "stale")
	if d.Status != telemetry.StatusOffline {
		t.Errorf("stale device not OFFLINE: %s", d.Status)
	}
	d, _ = s.Get(ctx, "maintenance")
	if d.Status != telemetry.StatusMaintenance {
		t.Errorf("maintenance device touched: %s", d.Status)
	}
}
