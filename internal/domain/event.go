package domain

import (
	"encoding/json"
	"time"
)

// EventRecord is the standardized shape of one disaster event. The table
// store maps source-specific column names (mag, wind_kt, frp, ...) onto
// this shape; nothing past that boundary sees the original schema.
type EventRecord struct {
	ID           string    `json:"id"`
	LocationCode string    `json:"location_code"`
	Timestamp    time.Time `json:"timestamp"`
	Lat          float64   `json:"latitude"`
	Lon          float64   `json:"longitude"`

	// Properties holds the type-specific severity fields (magnitude, wind
	// speed, burned area, ...) under their standardized names.
	Properties map[string]float64 `json:"properties,omitempty"`

	// Geometry is the perimeter polygon for polygon-bearing event types,
	// passed through unchanged. Point and track types leave it nil.
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

// Feature is a GeoJSON-like feature emitted to the frontend.
type Feature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
	Properties map[string]any  `json:"properties"`
}

// FeatureCollection is a GeoJSON-like feature list.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection wraps features in the standard envelope.
func NewFeatureCollection(features []Feature) *FeatureCollection {
	return &FeatureCollection{Type: "FeatureCollection", Features: features}
}

// TimeRange is the inclusive span covered by an event response.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TimeData maps bucket timestamp (RFC 3339) → record ID → the fields that
// changed in that bucket. The first appearance of a record carries all of
// its fields.
type TimeData map[string]map[string]map[string]float64
