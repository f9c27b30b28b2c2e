// Package translator is the model boundary: it builds a bounded textual
// context from scored candidates and catalog metadata, calls the external
// language model, and parses its loosely-typed reply into a Decision. The
// validator downstream is the enforcement boundary; nothing here is trusted.
package translator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/couchcryptid/geo-query-service/internal/domain"
	"github.com/couchcryptid/geo-query-service/internal/engine"
)

// Model is the external language-model collaborator. The prompt already
// contains everything the model may see; implementations add nothing.
type Model interface {
	Decide(ctx context.Context, prompt string) (*Decision, error)
}

// Decision is the model's structured output, one of four shapes keyed by
// Type: "order", "navigate", "disambiguate", or "chat".
type Decision struct {
	Type      string                  `json:"type"`
	Items     []RawItem               `json:"items,omitempty"`
	Derived   []RawSpec               `json:"derived,omitempty"`
	Locations []domain.LocationOption `json:"locations,omitempty"`
	Options   []domain.LocationOption `json:"options,omitempty"`
	Message   string                  `json:"message,omitempty"`
}

// RawItem is one loosely-typed order item as the model emits it.
type RawItem struct {
	Source    string             `json:"source"`
	Metric    string             `json:"metric"`
	Region    string             `json:"region,omitempty"`
	Locations []string           `json:"locations,omitempty"`
	Mode      string             `json:"mode,omitempty"`
	EventFile string             `json:"event_file,omitempty"`
	StartYear int                `json:"start_year,omitempty"`
	EndYear   int                `json:"end_year,omitempty"`
	Series    bool               `json:"series,omitempty"`
	Latest    bool               `json:"latest,omitempty"`
	Derived   string             `json:"derived,omitempty"`
	Filters   map[string]float64 `json:"filters,omitempty"`
	Limit     int                `json:"limit,omitempty"`
}

// RawRef accepts either "source:metric" strings or {source, metric} objects
// for derived-spec references.
type RawRef struct {
	Source string `json:"source,omitempty"`
	Metric string `json:"metric"`
}

// UnmarshalJSON tolerates the string form the model sometimes produces.
func (r *RawRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if before, after, found := strings.Cut(s, ":"); found {
			r.Source, r.Metric = before, after
		} else {
			r.Metric = s
		}
		return nil
	}
	type plain RawRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RawRef(p)
	return nil
}

// RawSpec is a loosely-typed derived spec.
type RawSpec struct {
	Numerator   RawRef  `json:"numerator"`
	Denominator RawRef  `json:"denominator"`
	Multiplier  float64 `json:"multiplier,omitempty"`
	Label       string  `json:"label,omitempty"`
}

// OrderItems converts the decision's raw items into domain items. Filters
// pass through the engine's _min/_max convention; unrecognized mode strings
// fall back to aggregate.
func (d *Decision) OrderItems() []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, raw := range d.Items {
		mode := domain.ModeAggregate
		if strings.EqualFold(raw.Mode, string(domain.ModeEvents)) {
			mode = domain.ModeEvents
		}
		start, end := raw.StartYear, raw.EndYear
		if start != 0 && end == 0 {
			end = start
		}
		items = append(items, domain.OrderItem{
			Source:    raw.Source,
			Metric:    raw.Metric,
			Region:    raw.Region,
			Locations: raw.Locations,
			Mode:      mode,
			EventFile: raw.EventFile,
			Time: domain.TimeSpec{
				StartYear: start,
				EndYear:   end,
				Series:    raw.Series,
				Latest:    raw.Latest,
			},
			Filters: engine.ParseFilters(raw.Filters),
			Limit:   raw.Limit,
			Derived: raw.Derived,
		})
	}
	return items
}

// DerivedSpecs converts the decision's raw specs.
func (d *Decision) DerivedSpecs() []domain.DerivedSpec {
	specs := make([]domain.DerivedSpec, 0, len(d.Derived))
	for _, raw := range d.Derived {
		specs = append(specs, domain.DerivedSpec{
			Numerator:   domain.Ref{Source: raw.Numerator.Source, Metric: raw.Numerator.Metric},
			Denominator: domain.Ref{Source: raw.Denominator.Source, Metric: raw.Denominator.Metric},
			Multiplier:  raw.Multiplier,
			Label:       raw.Label,
		})
	}
	return specs
}

// Config holds model connection settings.
type Config struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}
