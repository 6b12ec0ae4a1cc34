// Package telemetry holds the core domain types shared by the registry,
// ingestion, storage and rollup packages.
package telemetry

import (
	"encoding/json"
	"time"
)

// DeviceStatus is the liveness state of a registered device.
type DeviceStatus string

const (
	StatusOnline      DeviceStatus = "ONLINE"
	StatusOffline     DeviceStatus = "OFFLINE"
	StatusMaintenance DeviceStatus = "MAINTENANCE"
	StatusError       DeviceStatus = "ERROR"
)

// ValidStatus reports whether s is one of the known device statuses.
func ValidStatus(s DeviceStatus) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusMaintenance, StatusError:
		return true
	}
	return false
}

// Device is a registered physical sensor or actuator.
// ID is server-issued and opaque to callers.
type Device struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	VillageID string         `json:"villageId"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Elevation *float64       `json:"elevation,omitempty"`
	Location  string         `json:"location,omitempty"`
	Config    map[string]any `json:"config,omitempty"`

	// Schema is the device's declared numeric-field allowlist. When
	// non-empty, ingestion rejects metric keys outside it.
	Schema []string `json:"schema,omitempty"`

	Firmware string       `json:"firmware,omitempty"`
	Status   DeviceStatus `json:"status"`
	LastSeen *time.Time   `json:"lastSeen,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AllowsField reports whether the device's schema permits a metric key.
// An empty schema permits everything.
func (d *Device) AllowsField(key string) bool {
	if len(d.Schema) == 0 {
		return true
	}
	for _, f := range d.Schema {
		if f == key {
			return true
		}
	}
	return false
}

// Metrics is an open key→value measurement map. Values are numeric or
// arbitrary JSON; numeric extraction goes through Numeric.
type Metrics map[string]any

// Numeric returns the float64 value of a metric field, handling the
// types json.Unmarshal produces for numbers.
func (m Metrics) Numeric(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Reading is one immutable timestamped measurement from a device.
// (DeviceID, Timestamp) is unique; the store overwrites on duplicates.
type Reading struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
	Metrics   Metrics   `json:"metrics"`
}
