// Package engine executes validated orders: it joins independently-sourced
// tables into per-location boxes, computes derived metrics with explicit
// missing-data semantics, and serves individual-event queries under hard
// size and time-span limits. The engine never parses files itself; all file
// I/O sits behind the Storage interface.
package engine

import (
	"context"
	"encoding/json"

	"github.com/couchcryptid/geo-query-service/internal/domain"
)

// Row is one record of an aggregate source table, already standardized by
// the table store: a location code, a year, and metric values keyed by
// metric name. Metrics a source did not report for a row are absent from
// Values, never zero-filled.
type Row struct {
	LocationCode string
	Year         int
	Values       map[string]float64
}

// GeometryFeature is one resolved geometry, keyed by location code.
type GeometryFeature struct {
	LocationCode string
	Geometry     json.RawMessage
}

// Storage is the collaborator boundary to the file/table layer.
type Storage interface {
	// ReadTable loads the aggregate table registered under a source's file key.
	ReadTable(ctx context.Context, sourceID, fileKey string) ([]Row, error)

	// ReadEvents loads an event file and returns standardized records.
	ReadEvents(ctx context.Context, sourceID, fileKey string) ([]domain.EventRecord, error)

	// ResolveGeometry returns geometry for the given location codes. Codes
	// without stored geometry are simply absent from the result.
	ResolveGeometry(ctx context.Context, codes []string) ([]GeometryFeature, error)
}
