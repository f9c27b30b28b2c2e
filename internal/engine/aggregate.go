package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/geo-query-service/internal/catalog"
	"github.com/couchcryptid/geo-query-service/internal/domain"
)

// Engine executes validated orders against a catalog and a storage layer.
type Engine struct {
	cat    *catalog.Catalog
	store  Storage
	logger *slog.Logger

	defaultEventLimit int
}

// New creates an Engine. defaultEventLimit bounds event responses when the
// order does not request a limit of its own.
func New(cat *catalog.Catalog, store Storage, logger *slog.Logger, defaultEventLimit int) *Engine {
	if defaultEventLimit <= 0 {
		defaultEventLimit = 500
	}
	return &Engine{cat: cat, store: store, logger: logger, defaultEventLimit: defaultEventLimit}
}

// Execute runs the aggregate path: resolve regions, build the box domain,
// fill from each source, then compute derived fields. Per-location problems
// become warnings; only storage failures surface as errors.
func (e *Engine) Execute(ctx context.Context, items []domain.OrderItem, specs []domain.DerivedSpec) (*domain.BoxSet, []string, error) {
	var warnings []string

	// Union-before-fill: the box domain is fixed from every item's codes
	// before any table is read, so boxes targeted by only some items
	// legitimately stay sparse for the rest.
	itemCodes := make([][]string, len(items))
	var union []string
	seen := make(map[string]bool)
	for i, it := range items {
		if !it.Valid || it.Mode != domain.ModeAggregate {
			continue
		}
		codes, unknown := e.resolveItemCodes(it)
		for _, name := range unknown {
			warnings = append(warnings, fmt.Sprintf("unknown region %q", name))
		}
		itemCodes[i] = codes
		for _, code := range codes {
			if !seen[code] {
				seen[code] = true
				union = append(union, code)
			}
		}
	}
	boxes := domain.NewBoxSet(union)

	// Fill: one read per distinct (source, table) pair.
	tables := make(map[string][]Row)
	for i, it := range items {
		if !it.Valid || it.Mode != domain.ModeAggregate || len(itemCodes[i]) == 0 {
			continue
		}
		tableKey := e.cat.TableKey(it.Source)
		cacheKey := it.Source + "|" + tableKey
		rows, ok := tables[cacheKey]
		if !ok {
			var err error
			rows, err = e.store.ReadTable(ctx, it.Source, tableKey)
			if err != nil {
				return nil, warnings, fmt.Errorf("read table %s/%s: %w", it.Source, tableKey, err)
			}
			tables[cacheKey] = rows
		}
		for code, value := range pickValues(rows, itemCodes[i], it.Metric, it.Time) {
			boxes.Set(code, it.Metric, value)
		}
	}

	warnings = append(warnings, e.computeDerived(ctx, boxes, specs, tables)...)
	return boxes, warnings, nil
}

func (e *Engine) resolveItemCodes(it domain.OrderItem) ([]string, []string) {
	if it.Region != "" {
		return e.cat.ExpandAll([]string{it.Region})
	}
	return e.cat.ExpandAll(it.Locations)
}

// pickValues selects one value per location code from a table, honoring the
// time spec: the latest year inside an explicit range, otherwise the most
// recent year available in the table.
func pickValues(rows []Row, codes []string, metric string, t domain.TimeSpec) map[string]float64 {
	wanted := make(map[string]bool, len(codes))
	for _, c := range codes {
		wanted[c] = true
	}

	values := make(map[string]float64)
	years := make(map[string]int)
	for _, row := range rows {
		if !wanted[row.LocationCode] {
			continue
		}
		v, ok := row.Values[metric]
		if !ok {
			continue
		}
		if t.StartYear != 0 && (row.Year < t.StartYear || row.Year > t.EndYear) {
			continue
		}
		if prev, ok := years[row.LocationCode]; ok && row.Year <= prev {
			continue
		}
		years[row.LocationCode] = row.Year
		values[row.LocationCode] = v
	}
	return values
}

// computeDerived fills derived labels box by box. The denominator resolves
// in order: a value already present in the box, then a canonical-source
// lookup. Missing or zero denominators skip that box with one warning and
// never abort the computation — and never produce Inf or NaN.
func (e *Engine) computeDerived(ctx context.Context, boxes *domain.BoxSet, specs []domain.DerivedSpec, tables map[string][]Row) []string {
	var warnings []string
	canonical := make(map[string]map[string]float64)

	for _, spec := range specs {
		mult := spec.Multiplier
		if mult == 0 {
			mult = 1
		}
		for _, code := range boxes.Codes {
			num, ok := boxes.Get(code, spec.Numerator.Metric)
			if !ok {
				continue
			}

			denom, ok := boxes.Get(code, spec.Denominator.Metric)
			if !ok {
				denom, ok = e.canonicalLookup(ctx, spec.Denominator, code, canonical, tables)
			}
			if !ok || denom == 0 {
				warnings = append(warnings, fmt.Sprintf("%s: %s unavailable", code, spec.Denominator.Metric))
				continue
			}

			boxes.Set(code, spec.Label, num/denom*mult)
		}
	}
	return warnings
}

// canonicalLookup reads the denominator's authoritative table on first use
// and serves per-code values from it. Fetched tables go into the shared
// per-request cache so sibling specs reuse them. The fallback always takes
// the most recent year per code; the order's time spec does not apply here.
func (e *Engine) canonicalLookup(ctx context.Context, ref domain.Ref, code string, cache map[string]map[string]float64, tables map[string][]Row) (float64, bool) {
	if ref.Source == "" {
		return 0, false
	}
	key := ref.String()
	values, ok := cache[key]
	if !ok {
		tableKey := e.cat.TableKey(ref.Source)
		cacheKey := ref.Source + "|" + tableKey
		rows, have := tables[cacheKey]
		if !have {
			var err error
			rows, err = e.store.ReadTable(ctx, ref.Source, tableKey)
			if err != nil {
				e.logger.Warn("canonical denominator read failed", "ref", key, "error", err)
				cache[key] = map[string]float64{}
				return 0, false
			}
			tables[cacheKey] = rows
		}
		values = make(map[string]float64)
		years := make(map[string]int)
		for _, row := range rows {
			v, has := row.Values[ref.Metric]
			if !has {
				continue
			}
			if prev, seen := years[row.LocationCode]; seen && row.Year <= prev {
				continue
			}
			years[row.LocationCode] = row.Year
			values[row.LocationCode] = v
		}
		cache[key] = values
	}
	v, ok := values[code]
	return v, ok
}

// BuildFeatures joins filled boxes with geometry into a feature collection.
// Codes without stored geometry still appear, as geometry-less features.
func (e *Engine) BuildFeatures(ctx context.Context, boxes *domain.BoxSet) (*domain.FeatureCollection, error) {
	resolved, err := e.store.ResolveGeometry(ctx, boxes.Codes)
	if err != nil {
		return nil, fmt.Errorf("resolve geometry: %w", err)
	}
	geometries := make(map[string][]byte, len(resolved))
	for _, g := range resolved {
		geometries[g.LocationCode] = g.Geometry
	}

	features := make([]domain.Feature, 0, len(boxes.Codes))
	for _, code := range boxes.Codes {
		props := map[string]any{"location_code": code}
		if loc, ok := e.cat.LocationByCode(code); ok {
			props["name"] = loc.Name
		}
		for key, value := range boxes.Boxes[code] {
			props[key] = value
		}
		features = append(features, domain.Feature{
			Type:       "Feature",
			Geometry:   geometries[code],
			Properties: props,
		})
	}
	return domain.NewFeatureCollection(features), nil
}
