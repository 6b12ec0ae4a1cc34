package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/s2"

	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// EncodeBlock serializes a device's partition rows into one s2-compressed
// block. Rows must already be sorted timestamp-descending.
func EncodeBlock(rows []telemetry.Reading) ([]byte, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block: %w", err)
	}
	return s2.Encode(nil, raw), nil
}

// DecodeBlock reverses EncodeBlock.
func DecodeBlock(block []byte) ([]telemetry.Reading, error) {
	raw, err := s2.Decode(nil, block)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress block: %w", err)
	}
	var rows []telemetry.Reading
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode block: %w", err)
	}
	return rows, nil
}

// EncodeReading serializes a single reading for row storage.
func EncodeReading(r telemetry.Reading) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeReading deserializes a single stored reading.
func DecodeReading(data []byte) (telemetry.Reading, error) {
	var r telemetry.Reading
	err := json.Unmarshal(data, &r)
	return r, err
}

// InsertDesc inserts r into rows (sorted timestamp-descending), replacing
// any existing row with the identical timestamp. Last write wins.
func InsertDesc(rows []telemetry.Reading, r telemetry.Reading) (out []telemetry.Reading, replaced bool) {
	// Binary search for the first row at or before r.Timestamp.
	lo, hi := 0, len(rows)
	for lo < hi {
		mid := (lo + hi) / 2
		if rows[mid].Timestamp.After(r.Timestamp) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(rows) && rows[lo].Timestamp.Equal(r.Timestamp) {
		rows[lo] = r
		return rows, true
	}
	rows = append(rows, telemetry.Reading{})
	copy(rows[lo+1:], rows[lo:])
	rows[lo] = r
	return rows, false
}
