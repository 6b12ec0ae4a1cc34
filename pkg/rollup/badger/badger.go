// Package badger implements the rollup store on BadgerDB. Buckets live
// under the 'a' keyspace of the shared DB:
//
//	'a' | device hash (8B) | hour (8B unix) -> rollup JSON
//
// The hour component sorts buckets chronologically per device, so Range
// is a bounded prefix scan.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/villagegrid/telemetryd/pkg/rollup"
)

const keyPrefix = 'a'

// Store implements rollup.Store on BadgerDB.
type Store struct {
	db *badgerdb.DB
}

// New creates a Badger-backed rollup store on the shared DB.
func New(db *badgerdb.DB) *Store {
	return &Store{db: db}
}

// Get retrieves one bucket.
func (s *Store) Get(ctx context.Context, deviceID string, hour time.Time) (rollup.HourlyRollup, bool, error) {
	var r rollup.HourlyRollup
	var found bool
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(makeKey(deviceID, rollup.HourBucket(hour)))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			// Hash collisions are filtered on the decoded device ID.
			found = r.DeviceID == deviceID
			return nil
		})
	})
	if err != nil {
		return rollup.HourlyRollup{}, false, fmt.Errorf("failed to read rollup: %w", err)
	}
	return r, found, nil
}

// Put creates or replaces one bucket.
func (s *Store) Put(ctx context.Context, r rollup.HourlyRollup) error {
	r.Hour = rollup.HourBucket(r.Hour)
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode rollup: %w", err)
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(makeKey(r.DeviceID, r.Hour), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write rollup: %w", err)
	}
	return nil
}

// Range returns a device's buckets in [from, to], oldest first.
func (s *Store) Range(ctx context.Context, deviceID string, from, to time.Time) ([]rollup.HourlyRollup, error) {
	prefix := makeDevicePrefix(deviceID)
	seek := makeKey(deviceID, rollup.HourBucket(from))
	last := rollup.HourBucket(to)

	var out []rollup.HourlyRollup
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var r rollup.HourlyRollup
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				return err
			}
			if r.Hour.After(last) {
				break
			}
			if r.DeviceID != deviceID {
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rollup range scan failed: %w", err)
	}
	return out, nil
}

// DeleteBefore removes buckets older than cutoff across all devices.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{keyPrefix}

		it := txn.NewIterator(opts)
		defer it.Close()
		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			key := it.Item().Key()
			if keyHour(key).Before(cutoff) {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rollup retention scan failed: %w", err)
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rollup retention delete failed: %w", err)
	}
	return int64(len(keys)), nil
}

// DeleteDevice removes all buckets of one device.
func (s *Store) DeleteDevice(ctx context.Context, deviceID string) (int64, error) {
	prefix := makeDevicePrefix(deviceID)

	var keys [][]byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Close is a no-op; the shared DB's lifecycle is owned by the process
// entry point.
func (s *Store) Close() error {
	return nil
}

// makeKey builds 'a' | device hash | hour unix.
func makeKey(deviceID string, hour time.Time) []byte {
	key := make([]byte, 17)
	key[0] = keyPrefix
	binary.BigEndian.PutUint64(key[1:9], xxhash.Sum64String(deviceID))
	binary.BigEndian.PutUint64(key[9:17], uint64(hour.Unix()))
	return key
}

func makeDevicePrefix(deviceID string) []byte {
	key := make([]byte, 9)
	key[0] = keyPrefix
	binary.BigEndian.PutUint64(key[1:9], xxhash.Sum64String(deviceID))
	return key
}

func keyHour(key []byte) time.Time {
	return time.Unix(int64(binary.BigEndian.Uint64(key[9:17])), 0).UTC()
}
