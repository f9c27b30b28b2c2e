// Package catalog holds the immutable dataset catalog: which sources exist,
// which metrics and event files each one carries, the gazetteer used for
// location matching, region-name expansions, canonical denominator sources,
// and the reference-document index. It is loaded once at process start and
// never mutated afterwards, so concurrent requests read it without locking.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Metric describes one column of a source's aggregate table.
type Metric struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Unit     string `json:"unit,omitempty"`
	Internal bool   `json:"internal,omitempty"` // hidden from display listings
}

// EventFile describes one event file registered under a source, e.g. the
// "events" file of an earthquake source or the "positions" file of a storm
// track source.
type EventFile struct {
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`

	// Geometry is "point", "track", or "polygon". Polygon files carry their
	// perimeter geometry through to the response unchanged.
	Geometry string `json:"geometry"`

	// SignificanceFields is the preference-ordered list of columns used to
	// rank events when a result set must be truncated. The first field
	// present in the file's schema wins.
	SignificanceFields []string `json:"significance_fields"`

	// MaxLimit is the hard ceiling on returned events. Callers can lower the
	// effective limit but never raise it past this.
	MaxLimit int `json:"max_limit"`

	// Columns maps standardized field names to the file's own column names.
	// The table store uses it to normalize rows; nothing past the store
	// boundary ever sees a source-specific column name.
	Columns map[string]string `json:"columns,omitempty"`
}

// Source is one dataset provider: a name, lookup aliases, an aggregate table
// of metrics keyed by location code, and zero or more event files.
type Source struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Aliases    []string             `json:"aliases,omitempty"`
	TableKey   string               `json:"table_key,omitempty"` // aggregate file key, default "data"
	Metrics    map[string]Metric    `json:"metrics"`
	EventFiles map[string]EventFile `json:"event_files,omitempty"`
}

// Location is one gazetteer entry. Codes are hierarchical:
// "US" (country), "US-WA" (admin-1), "US-WA-WASHINGTON_COUNTY" (admin-2).
type Location struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Level     string  `json:"level"` // "country", "admin1", "admin2"
	CapitalOf string  `json:"capital_of,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
}

// DenominatorRef points at the authoritative table for a commonly needed
// denominator metric (population, area) when the order itself does not
// carry one.
type DenominatorRef struct {
	Source string `json:"source"`
	Metric string `json:"metric"`
}

// Reference is one entry of the reference-document index. Snippets are fed
// into the model context when their keywords overlap the query.
type Reference struct {
	Title    string   `json:"title"`
	Keywords []string `json:"keywords"`
	Snippet  string   `json:"snippet"`
}

// Catalog is the process-wide read-only dataset index.
type Catalog struct {
	Sources      map[string]Source         `json:"sources"`
	Locations    []Location                `json:"locations"`
	Regions      map[string][]string       `json:"regions"`
	Denominators map[string]DenominatorRef `json:"denominators"`
	References   []Reference               `json:"references,omitempty"`

	codes map[string]Location
}

// Load reads catalog.json from dir and builds the lookup indexes.
func Load(dir string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(dir, "catalog.json"))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(cat.Sources) == 0 {
		return nil, fmt.Errorf("catalog has no sources")
	}

	cat.buildIndexes()
	return &cat, nil
}

// New builds a Catalog from already-assembled parts. Used by tests and by
// callers that embed their catalog instead of loading it from disk.
func New(sources map[string]Source, locations []Location, regions map[string][]string, denominators map[string]DenominatorRef) *Catalog {
	cat := &Catalog{
		Sources:      sources,
		Locations:    locations,
		Regions:      regions,
		Denominators: denominators,
	}
	cat.buildIndexes()
	return cat
}

func (c *Catalog) buildIndexes() {
	c.codes = make(map[string]Location, len(c.Locations))
	for _, loc := range c.Locations {
		c.codes[loc.Code] = loc
	}
}

// HasSource reports whether a source ID is registered.
func (c *Catalog) HasSource(id string) bool {
	_, ok := c.Sources[id]
	return ok
}

// HasMetric reports whether a metric exists under a source.
func (c *Catalog) HasMetric(sourceID, metric string) bool {
	src, ok := c.Sources[sourceID]
	if !ok {
		return false
	}
	_, ok = src.Metrics[metric]
	return ok
}

// MetricLabel returns the display label for a metric, falling back to the
// metric name when the catalog carries no label.
func (c *Catalog) MetricLabel(sourceID, metric string) string {
	if src, ok := c.Sources[sourceID]; ok {
		if m, ok := src.Metrics[metric]; ok && m.Label != "" {
			return m.Label
		}
	}
	return metric
}

// TableKey returns the aggregate file key for a source.
func (c *Catalog) TableKey(sourceID string) string {
	if src, ok := c.Sources[sourceID]; ok && src.TableKey != "" {
		return src.TableKey
	}
	return "data"
}

// EventFile looks up a registered event file under a source. An empty key
// selects the source's "events" file when one exists, otherwise the sole
// registered file.
func (c *Catalog) EventFile(sourceID, key string) (EventFile, bool) {
	src, ok := c.Sources[sourceID]
	if !ok {
		return EventFile{}, false
	}
	if key != "" {
		f, ok := src.EventFiles[key]
		return f, ok
	}
	if f, ok := src.EventFiles["events"]; ok {
		return f, true
	}
	if len(src.EventFiles) == 1 {
		for _, f := range src.EventFiles {
			return f, true
		}
	}
	return EventFile{}, false
}

// LocationByCode returns the gazetteer entry for a code.
func (c *Catalog) LocationByCode(code string) (Location, bool) {
	loc, ok := c.codes[code]
	return loc, ok
}

// ExpandRegion resolves a region name or location code to an ordered set of
// location codes. Expansion is idempotent: feeding the resulting codes back
// in returns them unchanged, so callers may freely re-resolve.
func (c *Catalog) ExpandRegion(name string) []string {
	if codes, ok := c.Regions[strings.ToLower(strings.TrimSpace(name))]; ok {
		out := make([]string, len(codes))
		copy(out, codes)
		return out
	}
	if _, ok := c.codes[name]; ok {
		return []string{name}
	}
	return nil
}

// ExpandAll resolves a mixed list of region names and explicit codes,
// preserving first-appearance order and dropping duplicates. Unknown entries
// are reported back so the caller can attach a warning.
func (c *Catalog) ExpandAll(names []string) (codes []string, unknown []string) {
	seen := make(map[string]bool)
	for _, name := range names {
		expanded := c.ExpandRegion(name)
		if len(expanded) == 0 {
			unknown = append(unknown, name)
			continue
		}
		for _, code := range expanded {
			if !seen[code] {
				seen[code] = true
				codes = append(codes, code)
			}
		}
	}
	return codes, unknown
}

// MatchReferences returns reference snippets whose keywords appear in the
// query, capped at limit entries.
func (c *Catalog) MatchReferences(query string, limit int) []Reference {
	q := strings.ToLower(query)
	var out []Reference
	for _, ref := range c.References {
		for _, kw := range ref.Keywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				out = append(out, ref)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
