// Package badger implements the reading store on BadgerDB (LSM tree).
//
// Key layout inside the shared DB, all big-endian:
//
//	'r' | partition start (8B unix) | device hash (8B) | timestamp (8B unix-nano) -> reading JSON
//	'c' | partition start (8B)      | device hash (8B)                           -> row count (8B) + s2 block
//	'p' | partition start (8B)                                                   -> partition meta JSON
//	'h' | device hash (8B)                                                       -> device ID
//
// Uncompressed partitions keep one row key per reading; compressed
// partitions keep one block per device. Query merges both representations,
// so a crash between the block write and the row sweep of a compression
// pass loses nothing and the next pass resumes it.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/villagegrid/telemetryd/pkg/store"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

const (
	prefixRow   = 'r'
	prefixBlock = 'c'
	prefixMeta  = 'p'
	prefixHash  = 'h'

	// appendRetries bounds optimistic-concurrency retries when two
	// appends race to create the same partition.
	appendRetries = 5
)

// partMeta is the persisted partition metadata.
type partMeta struct {
	Start      int64 `json:"start"`
	Compressed bool  `json:"compressed"`
}

// Store implements store.Store on BadgerDB.
type Store struct {
	db    *badgerdb.DB
	width time.Duration

	// writeMu serializes partition-shape mutators: compression, drops,
	// device deletes and inserts into compressed partitions. Plain row
	// appends stay lock-free.
	writeMu sync.Mutex
}

// New creates a Badger-backed reading store on the shared DB.
func New(db *badgerdb.DB, width time.Duration) *Store {
	return &Store{db: db, width: width}
}

// Append stores one reading. Appends into compressed partitions rewrite
// the device's block and are serialized; everything else is a blind write.
func (s *Store) Append(ctx context.Context, r telemetry.Reading) (bool, error) {
	if r.DeviceID == "" || r.Timestamp.IsZero() {
		return false, fmt.Errorf("reading missing device ID or timestamp")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	start := store.PartitionStart(r.Timestamp, s.width)
	var replaced bool

	for attempt := 0; ; attempt++ {
		compressed, err := s.partitionCompressed(start)
		if err != nil {
			return false, err
		}
		if compressed {
			return s.appendCompressed(start, r)
		}

		err = s.db.Update(func(txn *badgerdb.Txn) error {
			// Ensure partition meta exists; written only on creation so
			// concurrent appends to an existing partition don't conflict.
			metaKey := makeMetaKey(start)
			if _, err := txn.Get(metaKey); err == badgerdb.ErrKeyNotFound {
				meta, err := json.Marshal(partMeta{Start: start.Unix()})
				if err != nil {
					return err
				}
				if err := txn.Set(metaKey, meta); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}

			rowKey := makeRowKey(start, r.DeviceID, r.Timestamp)
			_, getErr := txn.Get(rowKey)
			replaced = getErr == nil
			if getErr != nil && getErr != badgerdb.ErrKeyNotFound {
				return getErr
			}

			value, err := store.EncodeReading(r)
			if err != nil {
				return fmt.Errorf("failed to encode reading: %w", err)
			}
			if err := txn.Set(rowKey, value); err != nil {
				return err
			}
			return txn.Set(makeHashKey(r.DeviceID), []byte(r.DeviceID))
		})
		if err == badgerdb.ErrConflict && attempt < appendRetries {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to append reading: %w", err)
		}
		return replaced, nil
	}
}

// appendCompressed inserts a reading into an already-compressed partition
// by rewriting the device's block. Slow path, held under writeMu.
func (s *Store) appendCompressed(start time.Time, r telemetry.Reading) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var replaced bool
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		rows, err := blockRows(txn, start, r.DeviceID)
		if err != nil {
			return err
		}
		rows, replaced = store.InsertDesc(rows, r)
		if err := writeBlock(txn, start, r.DeviceID, rows); err != nil {
			return err
		}
		return txn.Set(makeHashKey(r.DeviceID), []byte(r.DeviceID))
	})
	if err != nil {
		return false, fmt.Errorf("failed to append into compressed partition: %w", err)
	}
	return replaced, nil
}

// Query retrieves readings in [Start, End], newest first, capped at the
// hard result limit. Periodically checks ctx so long scans stay cancelable.
func (s *Store) Query(ctx context.Context, req store.QueryRequest) ([]telemetry.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := store.ClampLimit(req.Limit)

	starts, err := s.partitionStartsDesc()
	if err != nil {
		return nil, err
	}

	var results []telemetry.Reading
	err = s.db.View(func(txn *badgerdb.Txn) error {
		for _, start := range starts {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := store.PartitionEnd(start, s.width)
			if !req.Start.IsZero() && end.Before(req.Start) {
				break
			}
			if !req.End.IsZero() && start.After(req.End) {
				continue
			}

			rows, err := partitionDeviceRows(txn, start, req.DeviceID)
			if err != nil {
				return err
			}
			for _, r := range rows {
				if !req.End.IsZero() && r.Timestamp.After(req.End) {
					continue
				}
				if !req.Start.IsZero() && r.Timestamp.Before(req.Start) {
					break
				}
				results = append(results, r)
				if len(results) >= limit {
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return results, nil
}

// partitionDeviceRows merges a device's row keys and block for one
// partition, newest first. Row keys win over block rows on equal
// timestamps: they are always at least as fresh.
func partitionDeviceRows(txn *badgerdb.Txn, start time.Time, deviceID string) ([]telemetry.Reading, error) {
	fromRows, err := iterateRows(txn, start, deviceID)
	if err != nil {
		return nil, err
	}
	fromBlock, err := blockRows(txn, start, deviceID)
	if err != nil {
		return nil, err
	}
	if len(fromBlock) == 0 {
		return fromRows, nil
	}
	if len(fromRows) == 0 {
		return fromBlock, nil
	}

	merged := make([]telemetry.Reading, 0, len(fromRows)+len(fromBlock))
	i, j := 0, 0
	for i < len(fromRows) && j < len(fromBlock) {
		switch {
		case fromRows[i].Timestamp.After(fromBlock[j].Timestamp):
			merged = append(merged, fromRows[i])
			i++
		case fromBlock[j].Timestamp.After(fromRows[i].Timestamp):
			merged = append(merged, fromBlock[j])
			j++
		default:
			merged = append(merged, fromRows[i])
			i++
			j++
		}
	}
	merged = append(merged, fromRows[i:]...)
	merged = append(merged, fromBlock[j:]...)
	return merged, nil
}

// iterateRows reads a device's row keys in one partition newest-first.
func iterateRows(txn *badgerdb.Txn, start time.Time, deviceID string) ([]telemetry.Reading, error) {
	prefix := makeDevicePrefix(start, deviceID)

	opts := badgerdb.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	// Seek past the prefix, then walk backwards through it.
	seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)

	var rows []telemetry.Reading
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		var r telemetry.Reading
		err := it.Item().Value(func(val []byte) error {
			decoded, err := store.DecodeReading(val)
			if err != nil {
				return err
			}
			r = decoded
			return nil
		})
		if err != nil {
			return nil, err
		}
		// Hash collisions are astronomically rare but cheap to filter.
		if r.DeviceID != deviceID {
			continue
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// blockRows reads and decodes a device's compressed block for one
// partition, filtering colliding devices.
func blockRows(txn *badgerdb.Txn, start time.Time, deviceID string) ([]telemetry.Reading, error) {
	item, err := txn.Get(makeBlockKey(start, deviceID))
	if err == badgerdb.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []telemetry.Reading
	err = item.Value(func(val []byte) error {
		if len(val) < 8 {
			return fmt.Errorf("corrupt block: %d bytes", len(val))
		}
		decoded, err := store.DecodeBlock(val[8:])
		if err != nil {
			return err
		}
		rows = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	filtered := rows[:0]
	for _, r := range rows {
		if r.DeviceID == deviceID {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// writeBlock encodes and stores a device's block with its row-count header.
func writeBlock(txn *badgerdb.Txn, start time.Time, deviceID string, rows []telemetry.Reading) error {
	block, err := store.EncodeBlock(rows)
	if err != nil {
		return err
	}
	value := make([]byte, 8+len(block))
	binary.BigEndian.PutUint64(value[:8], uint64(len(rows)))
	copy(value[8:], block)
	return txn.Set(makeBlockKey(start, deviceID), value)
}

// Compress rewrites a partition into per-device blocks and sweeps its row
// keys. Safe to re-run: leftover row keys from an interrupted pass are
// merged into the existing blocks.
func (s *Store) Compress(ctx context.Context, start time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isActive(start) {
		return store.ErrActivePartition
	}
	exists, err := s.partitionExists(start)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	devices, err := s.partitionDevices(start)
	if err != nil {
		return err
	}

	// One transaction per device bounds txn size and makes the pass
	// resumable partition-internally as well.
	for _, deviceID := range devices {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badgerdb.Txn) error {
			fromRows, err := iterateRows(txn, start, deviceID)
			if err != nil {
				return err
			}
			if len(fromRows) == 0 {
				return nil
			}
			merged, err := partitionDeviceRows(txn, start, deviceID)
			if err != nil {
				return err
			}
			if err := writeBlock(txn, start, deviceID, merged); err != nil {
				return err
			}
			for _, r := range fromRows {
				if err := txn.Delete(makeRowKey(start, r.DeviceID, r.Timestamp)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to compress device %s: %w", deviceID, err)
		}
	}

	meta, err := json.Marshal(partMeta{Start: start.Unix(), Compressed: true})
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(makeMetaKey(start), meta)
	})
	if err != nil {
		return fmt.Errorf("failed to mark partition compressed: %w", err)
	}
	return nil
}

// Drop deletes a whole partition: rows, blocks and metadata. Idempotent.
func (s *Store) Drop(ctx context.Context, start time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isActive(start) {
		return store.ErrActivePartition
	}

	for _, prefix := range [][]byte{
		makePartitionPrefix(prefixRow, start),
		makePartitionPrefix(prefixBlock, start),
		makeMetaKey(start),
	} {
		if err := s.deletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("failed to drop partition: %w", err)
		}
	}
	return nil
}

// DeleteDevice removes every reading of a device across all partitions.
func (s *Store) DeleteDevice(ctx context.Context, deviceID string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	starts, err := s.partitionStartsDesc()
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, start := range starts {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		err := s.db.Update(func(txn *badgerdb.Txn) error {
			rows, err := partitionDeviceRows(txn, start, deviceID)
			if err != nil {
				return err
			}
			for _, r := range rows {
				if err := txn.Delete(makeRowKey(start, deviceID, r.Timestamp)); err != nil {
					return err
				}
			}
			if err := txn.Delete(makeBlockKey(start, deviceID)); err != nil && err != badgerdb.ErrKeyNotFound {
				return err
			}
			deleted += int64(len(rows))
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete device readings: %w", err)
		}
	}
	return deleted, nil
}

// CountByDevice returns the number of stored readings per device. Row
// counts come from a key-only scan; block counts from the block headers.
func (s *Store) CountByDevice(ctx context.Context) (map[string]int64, error) {
	byHash := make(map[uint64]int64)

	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixRow}

		it := txn.NewIterator(opts)
		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					it.Close()
					return err
				}
			}
			byHash[rowKeyHash(it.Item().Key())]++
		}
		it.Close()

		blockOpts := badgerdb.DefaultIteratorOptions
		blockOpts.Prefix = []byte{prefixBlock}
		bit := txn.NewIterator(blockOpts)
		defer bit.Close()
		for bit.Rewind(); bit.Valid(); bit.Next() {
			hash := blockKeyHash(bit.Item().Key())
			err := bit.Item().Value(func(val []byte) error {
				if len(val) < 8 {
					return fmt.Errorf("corrupt block: %d bytes", len(val))
				}
				byHash[hash] += int64(binary.BigEndian.Uint64(val[:8]))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count scan failed: %w", err)
	}

	counts := make(map[string]int64, len(byHash))
	err = s.db.View(func(txn *badgerdb.Txn) error {
		for hash, n := range byHash {
			id, err := resolveHash(txn, hash)
			if err != nil {
				return err
			}
			if id != "" {
				counts[id] += n
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Partitions lists partition metadata, oldest first.
func (s *Store) Partitions(ctx context.Context) ([]store.PartitionInfo, error) {
	starts, err := s.partitionStartsDesc()
	if err != nil {
		return nil, err
	}

	infos := make([]store.PartitionInfo, 0, len(starts))
	err = s.db.View(func(txn *badgerdb.Txn) error {
		for _, start := range starts {
			compressed, err := metaCompressed(txn, start)
			if err != nil {
				return err
			}
			rows, err := partitionRowCount(txn, start)
			if err != nil {
				return err
			}
			infos = append(infos, store.PartitionInfo{
				Start:      start,
				End:        store.PartitionEnd(start, s.width),
				Compressed: compressed,
				Readings:   rows,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("partition scan failed: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Start.Before(infos[j].Start) })
	return infos, nil
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts, err := s.CountByDevice(ctx)
	if err != nil {
		return nil, err
	}
	infos, err := s.Partitions(ctx)
	if err != nil {
		return nil, err
	}

	stats := &store.Stats{
		TotalDevices: uint64(len(counts)),
		Partitions:   len(infos),
	}
	for _, n := range counts {
		stats.TotalReadings += uint64(n)
	}
	for _, p := range infos {
		if p.Compressed {
			stats.CompressedPartitions++
		}
		if stats.OldestReading.IsZero() || p.Start.Before(stats.OldestReading) {
			stats.OldestReading = p.Start
		}
		if p.End.After(stats.NewestReading) {
			stats.NewestReading = p.End
		}
	}

	lsm, vlog := s.db.Size()
	stats.SizeBytes = uint64(lsm + vlog)
	return stats, nil
}

// Close is a no-op; the shared DB's lifecycle is owned by the process
// entry point.
func (s *Store) Close() error {
	return nil
}

func (s *Store) isActive(start time.Time) bool {
	return start.Equal(store.PartitionStart(time.Now(), s.width))
}

func (s *Store) partitionExists(start time.Time) (bool, error) {
	var exists bool
	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(makeMetaKey(start))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (s *Store) partitionCompressed(start time.Time) (bool, error) {
	var compressed bool
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		compressed, err = metaCompressed(txn, start)
		return err
	})
	return compressed, err
}

func metaCompressed(txn *badgerdb.Txn, start time.Time) (bool, error) {
	item, err := txn.Get(makeMetaKey(start))
	if err == badgerdb.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var meta partMeta
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	}); err != nil {
		return false, err
	}
	return meta.Compressed, nil
}

// partitionStartsDesc lists known partition starts, newest first.
func (s *Store) partitionStartsDesc() ([]time.Time, error) {
	var starts []time.Time
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixMeta}

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if len(key) != 9 {
				continue
			}
			starts = append(starts, time.Unix(int64(binary.BigEndian.Uint64(key[1:9])), 0).UTC())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].After(starts[j]) })
	return starts, nil
}

// partitionDevices lists device IDs with row keys in a partition.
func (s *Store) partitionDevices(start time.Time) ([]string, error) {
	hashes := make(map[uint64]bool)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makePartitionPrefix(prefixRow, start)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			hashes[rowKeyHash(it.Item().Key())] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var devices []string
	err = s.db.View(func(txn *badgerdb.Txn) error {
		for hash := range hashes {
			id, err := resolveHash(txn, hash)
			if err != nil {
				return err
			}
			if id != "" {
				devices = append(devices, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(devices)
	return devices, nil
}

func partitionRowCount(txn *badgerdb.Txn, start time.Time) (int64, error) {
	var count int64

	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = makePartitionPrefix(prefixRow, start)
	it := txn.NewIterator(opts)
	for it.Rewind(); it.Valid(); it.Next() {
		count++
	}
	it.Close()

	blockOpts := badgerdb.DefaultIteratorOptions
	blockOpts.Prefix = makePartitionPrefix(prefixBlock, start)
	bit := txn.NewIterator(blockOpts)
	defer bit.Close()
	for bit.Rewind(); bit.Valid(); bit.Next() {
		err := bit.Item().Value(func(val []byte) error {
			if len(val) < 8 {
				return fmt.Errorf("corrupt block: %d bytes", len(val))
			}
			count += int64(binary.BigEndian.Uint64(val[:8]))
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return count, nil
}

// deletePrefix removes all keys under prefix in batches.
func (s *Store) deletePrefix(ctx context.Context, prefix []byte) error {
	const batchSize = 1000
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var keys [][]byte
		err := s.db.View(func(txn *badgerdb.Txn) error {
			opts := badgerdb.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix

			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid() && len(keys) < batchSize; it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
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
			return err
		}
		if len(keys) < batchSize {
			return nil
		}
	}
}

func resolveHash(txn *badgerdb.Txn, hash uint64) (string, error) {
	key := make([]byte, 9)
	key[0] = prefixHash
	binary.BigEndian.PutUint64(key[1:9], hash)

	item, err := txn.Get(key)
	if err == badgerdb.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var id string
	err = item.Value(func(val []byte) error {
		id = string(val)
		return nil
	})
	return id, err
}

// makeRowKey builds 'r' | partition | device hash | unix-nano timestamp.
func makeRowKey(start time.Time, deviceID string, ts time.Time) []byte {
	key := make([]byte, 25)
	key[0] = prefixRow
	binary.BigEndian.PutUint64(key[1:9], uint64(start.Unix()))
	binary.BigEndian.PutUint64(key[9:17], xxhash.Sum64String(deviceID))
	binary.BigEndian.PutUint64(key[17:25], uint64(ts.UnixNano()))
	return key
}

func makeBlockKey(start time.Time, deviceID string) []byte {
	key := make([]byte, 17)
	key[0] = prefixBlock
	binary.BigEndian.PutUint64(key[1:9], uint64(start.Unix()))
	binary.BigEndian.PutUint64(key[9:17], xxhash.Sum64String(deviceID))
	return key
}

func makeMetaKey(start time.Time) []byte {
	key := make([]byte, 9)
	key[0] = prefixMeta
	binary.BigEndian.PutUint64(key[1:9], uint64(start.Unix()))
	return key
}

func makeHashKey(deviceID string) []byte {
	key := make([]byte, 9)
	key[0] = prefixHash
	binary.BigEndian.PutUint64(key[1:9], xxhash.Sum64String(deviceID))
	return key
}

func makeDevicePrefix(start time.Time, deviceID string) []byte {
	key := make([]byte, 17)
	key[0] = prefixRow
	binary.BigEndian.PutUint64(key[1:9], uint64(start.Unix()))
	binary.BigEndian.PutUint64(key[9:17], xxhash.Sum64String(deviceID))
	return key
}

func makePartitionPrefix(prefix byte, start time.Time) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:9], uint64(start.Unix()))
	return key
}

func rowKeyHash(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[9:17])
}

func blockKeyHash(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[9:17])
}
