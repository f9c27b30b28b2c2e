package domain

import (
	"fmt"
	"strings"
)

// OrderMode selects the execution path for an item.
type OrderMode string

const (
	ModeAggregate OrderMode = "aggregate"
	ModeEvents    OrderMode = "events"
)

// Bound is an optional inclusive numeric range on an event field.
type Bound struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// TimeSpec narrows an item to a year range. The zero value with Latest unset
// also means "most recent available"; Series marks an open time series
// request ("trend", "historical").
type TimeSpec struct {
	StartYear   int    `json:"start_year,omitempty"`
	EndYear     int    `json:"end_year,omitempty"`
	Series      bool   `json:"series,omitempty"`
	Latest      bool   `json:"latest,omitempty"`
	Granularity string `json:"granularity,omitempty"` // event mode: "6h", "daily", "weekly"
}

// Key returns a canonical string for duplicate collapsing.
func (t TimeSpec) Key() string {
	return fmt.Sprintf("%d-%d-%t-%t", t.StartYear, t.EndYear, t.Series, t.Latest)
}

// OrderItem is one dataset request inside a validated order. Valid and Error
// are set only by the validator; upstream stages leave them zero.
type OrderItem struct {
	Source    string           `json:"source"`
	Metric    string           `json:"metric"`
	Region    string           `json:"region,omitempty"`
	Locations []string         `json:"locations,omitempty"`
	Time      TimeSpec         `json:"time,omitempty"`
	Mode      OrderMode        `json:"mode"`
	EventFile string           `json:"event_file,omitempty"`
	Filters   map[string]Bound `json:"filters,omitempty"`
	Limit     int              `json:"limit,omitempty"`

	// Derived is the model's shorthand flag ("per_capita", "per_area"). The
	// expander consumes it and clears it, so expansion is idempotent.
	Derived string `json:"derived,omitempty"`

	// ForDerivation marks denominator-bearing siblings kept for computation
	// but hidden from item counts and display listings.
	ForDerivation bool `json:"for_derivation,omitempty"`

	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// RegionKey is the canonical region identity for duplicate collapsing.
func (it OrderItem) RegionKey() string {
	if it.Region != "" {
		return strings.ToLower(it.Region)
	}
	return strings.Join(it.Locations, ",")
}

// DedupeKey identifies an item up to (source, metric, region, time).
func (it OrderItem) DedupeKey() string {
	return it.Source + "|" + it.Metric + "|" + it.RegionKey() + "|" + it.Time.Key()
}

// Ref names one side of a derived computation: either a bare metric resolved
// against the sibling item's source, or an explicit source/metric pair for
// cross-source ratios.
type Ref struct {
	Source string `json:"source,omitempty"`
	Metric string `json:"metric"`
}

func (r Ref) String() string {
	if r.Source == "" {
		return r.Metric
	}
	return r.Source + ":" + r.Metric
}

// DerivedSpec describes a metric computed at execution time as
// numerator / denominator * multiplier.
type DerivedSpec struct {
	Numerator   Ref     `json:"numerator"`
	Denominator Ref     `json:"denominator"`
	Multiplier  float64 `json:"multiplier,omitempty"`
	Label       string  `json:"label"`
}

// Key is the canonical dedupe key for a spec.
func (d DerivedSpec) Key() string {
	return d.Numerator.String() + "|" + d.Denominator.String() + "|" + d.Label
}
