// Package badger implements the device store on BadgerDB. Devices live
// under the 'd' keyspace of the shared DB as JSON values.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/villagegrid/telemetryd/pkg/registry"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

const keyPrefix = 'd'

// markSeenRetries bounds optimistic-concurrency retries when heartbeats
// for the same device race.
const markSeenRetries = 10

// Store implements registry.DeviceStore on BadgerDB.
type Store struct {
	db *badgerdb.DB
}

// New creates a Badger-backed device store on the shared DB.
func New(db *badgerdb.DB) *Store {
	return &Store{db: db}
}

// Create stores a new device.
func (s *Store) Create(ctx context.Context, d telemetry.Device) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		key := makeKey(d.ID)
		if _, err := txn.Get(key); err == nil {
			return telemetry.Conflictf("device %q already exists", d.ID)
		} else if err != badgerdb.ErrKeyNotFound {
			return fmt.Errorf("failed to check device: %w", err)
		}
		value, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to encode device: %w", err)
		}
		return txn.Set(key, value)
	})
}

// Get retrieves a device.
func (s *Store) Get(ctx context.Context, id string) (telemetry.Device, error) {
	var d telemetry.Device
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		d, err = getDevice(txn, id)
		return err
	})
	return d, err
}

// Put replaces a stored device.
func (s *Store) Put(ctx context.Context, d telemetry.Device) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := getDevice(txn, d.ID); err != nil {
			return err
		}
		value, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to encode device: %w", err)
		}
		return txn.Set(makeKey(d.ID), value)
	})
}

// Delete removes a device.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := getDevice(txn, id); err != nil {
			return err
		}
		return txn.Delete(makeKey(id))
	})
}

// List returns one page of matching devices ordered by creation time.
// The device population is small, so filtering happens after a full scan.
func (s *Store) List(ctx context.Context, f registry.Filter) ([]telemetry.Device, int, error) {
	var matched []telemetry.Device
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte{keyPrefix}

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var d telemetry.Device
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &d)
			})
			if err != nil {
				return fmt.Errorf("failed to decode device: %w", err)
			}
			if f.Type != "" && d.Type != f.Type {
				continue
			}
			if f.Status != "" && d.Status != f.Status {
				continue
			}
			matched = append(matched, d)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
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

// MarkSeen advances liveness state with a read-modify-write transaction.
// Badger's conflict detection turns racing heartbeats into retries, so
// lastSeen only ever moves to the max timestamp.
func (s *Store) MarkSeen(ctx context.Context, id string, ts time.Time) (telemetry.Device, error) {
	var d telemetry.Device
	for attempt := 0; ; attempt++ {
		err := s.db.Update(func(txn *badgerdb.Txn) error {
			var err error
			d, err = getDevice(txn, id)
			if err != nil {
				return err
			}
			if d.LastSeen == nil || ts.After(*d.LastSeen) {
				seen := ts
				d.LastSeen = &seen
				d.UpdatedAt = time.Now().UTC()
			}
			d.Status = telemetry.StatusOnline
			value, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("failed to encode device: %w", err)
			}
			return txn.Set(makeKey(id), value)
		})
		if err == badgerdb.ErrConflict && attempt < markSeenRetries {
			continue
		}
		if err != nil {
			return telemetry.Device{}, err
		}
		return d, nil
	}
}

// DemoteStale flips stale ONLINE devices to OFFLINE.
func (s *Store) DemoteStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	var demoted []string
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte{keyPrefix}

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var d telemetry.Device
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &d)
			})
			if err != nil {
				return fmt.Errorf("failed to decode device: %w", err)
			}
			if d.Status != telemetry.StatusOnline {
				continue
			}
			if d.LastSeen != nil && !d.LastSeen.Before(cutoff) {
				continue
			}
			d.Status = telemetry.StatusOffline
			d.UpdatedAt = time.Now().UTC()
			value, err := json.Marshal(d)
			if err != nil {
				return err
			}
			if err := txn.Set(makeKey(d.ID), value); err != nil {
				return err
			}
			demoted = append(demoted, d.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return demoted, nil
}

// Close is a no-op; the shared DB's lifecycle is owned by the process
// entry point.
func (s *Store) Close() error {
	return nil
}

func getDevice(txn *badgerdb.Txn, id string) (telemetry.Device, error) {
	item, err := txn.Get(makeKey(id))
	if err == badgerdb.ErrKeyNotFound {
		return telemetry.Device{}, telemetry.NotFound("device", id)
	}
	if err != nil {
		return telemetry.Device{}, fmt.Errorf("failed to read device: %w", err)
	}
	var d telemetry.Device
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &d)
	})
	if err != nil {
		return telemetry.Device{}, fmt.Errorf("failed to decode device: %w", err)
	}
	return d, nil
}

func makeKey(id string) []byte {
	key := make([]byte, 1+len(id))
	key[0] = keyPrefix
	copy(key[1:], id)
	return key
}
