package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/geo-query-service/internal/domain"
)

// Granularity steps, coarsest last. Exceeding a cap widens the granularity
// one step instead of rejecting the query; weekly has no cap, so nothing is
// ever refused for span alone.
const (
	GranularitySixHour = "6h"
	GranularityDaily   = "daily"
	GranularityWeekly  = "weekly"
)

var granularityCaps = map[string]time.Duration{
	GranularitySixHour: 90 * 24 * time.Hour,
	GranularityDaily:   2 * 365 * 24 * time.Hour,
}

// EventsResult is the event-mode payload.
type EventsResult struct {
	Features    []domain.Feature
	TimeData    domain.TimeData
	TimeRange   domain.TimeRange
	Granularity string
	Summary     string
}

// ParseFilters converts the model's flat filter map into inclusive bounds
// using the _min/_max suffix convention. Keys without a recognized suffix
// become exact lower-and-upper bounds.
func ParseFilters(raw map[string]float64) map[string]domain.Bound {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]domain.Bound)
	for key, value := range raw {
		v := value
		field := key
		bound := out[field]
		switch {
		case strings.HasSuffix(key, "_min"):
			field = strings.TrimSuffix(key, "_min")
			bound = out[field]
			bound.Min = &v
		case strings.HasSuffix(key, "_max"):
			field = strings.TrimSuffix(key, "_max")
			bound = out[field]
			bound.Max = &v
		default:
			bound.Min, bound.Max = &v, &v
		}
		out[field] = bound
	}
	return out
}

// ExecuteEvents runs the event path for one item: load, filter, limit,
// bucket. Unknown filter fields are ignored with a warning; limit and
// time-span violations are clamped, never errors.
func (e *Engine) ExecuteEvents(ctx context.Context, it domain.OrderItem) (*EventsResult, []string, error) {
	var warnings []string

	file, ok := e.cat.EventFile(it.Source, it.EventFile)
	if !ok {
		return nil, nil, fmt.Errorf("source %q has no event file %q", it.Source, it.EventFile)
	}

	records, err := e.store.ReadEvents(ctx, it.Source, file.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("read events %s/%s: %w", it.Source, file.Key, err)
	}

	codes, unknown := e.resolveItemCodes(it)
	for _, name := range unknown {
		warnings = append(warnings, fmt.Sprintf("unknown region %q", name))
	}

	filtered, filterWarnings := filterEvents(records, it, codes)
	warnings = append(warnings, filterWarnings...)

	limit := it.Limit
	if limit <= 0 {
		limit = e.defaultEventLimit
	}
	if file.MaxLimit > 0 && limit > file.MaxLimit {
		limit = file.MaxLimit
	}
	if len(filtered) > limit {
		rankBySignificance(filtered, file.SignificanceFields)
		filtered = filtered[:limit]
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Timestamp.Before(filtered[j].Timestamp) })

	result := &EventsResult{
		TimeData: domain.TimeData{},
	}
	if len(filtered) == 0 {
		result.Granularity = GranularityDaily
		result.Summary = fmt.Sprintf("No matching %s events", it.Source)
		return result, warnings, nil
	}

	result.TimeRange = domain.TimeRange{
		Start: filtered[0].Timestamp,
		End:   filtered[len(filtered)-1].Timestamp,
	}
	result.Granularity = widenGranularity(it.Time.Granularity, result.TimeRange.End.Sub(result.TimeRange.Start))
	result.TimeData = bucketEvents(filtered, result.Granularity)
	result.Features = buildEventFeatures(filtered, file.Geometry)
	result.Summary = fmt.Sprintf("%d %s events from %s to %s",
		len(filtered), it.Source,
		result.TimeRange.Start.Format("2006-01-02"), result.TimeRange.End.Format("2006-01-02"))

	return result, warnings, nil
}

// filterEvents applies field bounds, the region code-prefix filter, and the
// inclusive year range. Filter keys that match no column in the file are
// ignored rather than erroring, to tolerate schema variation across event
// families.
func filterEvents(records []domain.EventRecord, it domain.OrderItem, codes []string) ([]domain.EventRecord, []string) {
	var warnings []string

	known := make(map[string]bool)
	for _, rec := range records {
		for field := range rec.Properties {
			known[field] = true
		}
	}
	bounds := make(map[string]domain.Bound, len(it.Filters))
	fields := make([]string, 0, len(it.Filters))
	for field := range it.Filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if !known[field] {
			warnings = append(warnings, fmt.Sprintf("filter field %q not present in event data, ignored", field))
			continue
		}
		bounds[field] = it.Filters[field]
	}

	out := make([]domain.EventRecord, 0, len(records))
	for _, rec := range records {
		if !matchesRegion(rec.LocationCode, codes) {
			continue
		}
		if it.Time.StartYear != 0 {
			year := rec.Timestamp.Year()
			if year < it.Time.StartYear || year > it.Time.EndYear {
				continue
			}
		}
		if !matchesBounds(rec, bounds) {
			continue
		}
		out = append(out, rec)
	}
	return out, warnings
}

func matchesRegion(code string, codes []string) bool {
	if len(codes) == 0 {
		return true
	}
	for _, prefix := range codes {
		if code == prefix || strings.HasPrefix(code, prefix+"-") {
			return true
		}
	}
	return false
}

func matchesBounds(rec domain.EventRecord, bounds map[string]domain.Bound) bool {
	for field, bound := range bounds {
		v, ok := rec.Properties[field]
		if !ok {
			return false
		}
		if bound.Min != nil && v < *bound.Min {
			return false
		}
		if bound.Max != nil && v > *bound.Max {
			return false
		}
	}
	return true
}

// rankBySignificance sorts descending by the first preference-list field
// that the data actually carries, so truncation keeps the most significant
// events. Ties break on ID for determinism.
func rankBySignificance(records []domain.EventRecord, preference []string) {
	var field string
	for _, candidate := range preference {
		for _, rec := range records {
			if _, ok := rec.Properties[candidate]; ok {
				field = candidate
				break
			}
		}
		if field != "" {
			break
		}
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].Properties[field], records[j].Properties[field]
		if a != b {
			return a > b
		}
		return records[i].ID < records[j].ID
	})
}

// widenGranularity picks the requested granularity, then steps coarser
// until the span fits under the cap.
func widenGranularity(requested string, span time.Duration) string {
	g := requested
	switch g {
	case GranularitySixHour, GranularityDaily, GranularityWeekly:
	default:
		g = GranularityDaily
	}
	for {
		maxSpan, capped := granularityCaps[g]
		if !capped || span <= maxSpan {
			return g
		}
		switch g {
		case GranularitySixHour:
			g = GranularityDaily
		case GranularityDaily:
			g = GranularityWeekly
		}
	}
}

func bucketTime(t time.Time, granularity string) time.Time {
	switch granularity {
	case GranularitySixHour:
		return t.UTC().Truncate(6 * time.Hour)
	case GranularityWeekly:
		day := t.UTC().Truncate(24 * time.Hour)
		// Weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return t.UTC().Truncate(24 * time.Hour)
	}
}

// bucketEvents groups records into time_data[bucket][id] = changed fields.
// A record's first appearance carries all of its fields; later buckets only
// carry what moved, which keeps track overlays small.
func bucketEvents(records []domain.EventRecord, granularity string) domain.TimeData {
	data := domain.TimeData{}
	last := make(map[string]map[string]float64)

	for _, rec := range records {
		bucket := bucketTime(rec.Timestamp, granularity).Format(time.RFC3339)

		current := make(map[string]float64, len(rec.Properties)+2)
		for k, v := range rec.Properties {
			current[k] = v
		}
		current["latitude"] = rec.Lat
		current["longitude"] = rec.Lon

		changed := make(map[string]float64)
		prev := last[rec.ID]
		for k, v := range current {
			if prev == nil {
				changed[k] = v
				continue
			}
			if old, ok := prev[k]; !ok || old != v {
				changed[k] = v
			}
		}
		last[rec.ID] = current

		if len(changed) == 0 {
			continue
		}
		if data[bucket] == nil {
			data[bucket] = make(map[string]map[string]float64)
		}
		data[bucket][rec.ID] = changed
	}
	return data
}

// buildEventFeatures emits one feature per record ID. Polygon perimeters
// pass through unchanged; point and track types get only their coordinate
// pair.
func buildEventFeatures(records []domain.EventRecord, geometryKind string) []domain.Feature {
	seen := make(map[string]bool)
	features := make([]domain.Feature, 0, len(records))
	for _, rec := range records {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true

		props := map[string]any{
			"id":            rec.ID,
			"location_code": rec.LocationCode,
			"timestamp":     rec.Timestamp.UTC().Format(time.RFC3339),
		}
		for k, v := range rec.Properties {
			props[k] = v
		}

		geometry := rec.Geometry
		if geometryKind != "polygon" || len(geometry) == 0 {
			point, _ := json.Marshal(map[string]any{
				"type":        "Point",
				"coordinates": []float64{rec.Lon, rec.Lat},
			})
			geometry = point
		}
		features = append(features, domain.Feature{Type: "Feature", Geometry: geometry, Properties: props})
	}
	return features
}
