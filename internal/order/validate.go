// Package order validates model-produced orders against the catalog and
// expands derived-field shorthand into explicit numerator/denominator specs.
// Validation never raises: a bad item is marked invalid with a reason and
// execution continues with the rest.
package order

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/geo-query-service/internal/catalog"
	"github.com/couchcryptid/geo-query-service/internal/domain"
)

// derivedShorthand maps a shorthand flag to its denominator metric name and
// label suffix. Denominators resolve first against the item's own source,
// then against the catalog's canonical-denominator table.
var derivedShorthand = map[string]struct {
	denominator string
	labelSuffix string
	multiplier  float64
}{
	"per_capita": {denominator: "population", labelSuffix: "Per Capita"},
	"per_area":   {denominator: "area_km2", labelSuffix: "Per Km²"},
	"per_100k":   {denominator: "population", labelSuffix: "Per 100k", multiplier: 100_000},
}

// ValidateAndExpand checks each item against the catalog, collapses
// duplicates, and rewrites shorthand derived flags into explicit
// DerivedSpecs plus hidden denominator siblings. Explicit specs handed in by
// the model (the cross-source case) are normalized and kept. The operation
// is idempotent: running it on its own output changes nothing.
func ValidateAndExpand(items []domain.OrderItem, rawSpecs []domain.DerivedSpec, cat *catalog.Catalog) ([]domain.OrderItem, []domain.DerivedSpec, []string) {
	var warnings []string

	validated := make([]domain.OrderItem, 0, len(items))
	seen := make(map[string]bool)
	for _, it := range items {
		it = validateItem(it, cat)
		key := it.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		validated = append(validated, it)
	}

	var specs []domain.DerivedSpec
	specKeys := make(map[string]bool)

	// Explicit specs first: normalize bare refs against the items that carry
	// the metric, then make sure a denominator sibling exists.
	for _, raw := range rawSpecs {
		spec, sibling, err := normalizeSpec(raw, validated, cat)
		if err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		if specKeys[spec.Key()] {
			continue
		}
		specKeys[spec.Key()] = true
		specs = append(specs, spec)
		if sibling != nil && !seen[sibling.DedupeKey()] {
			seen[sibling.DedupeKey()] = true
			validated = append(validated, *sibling)
		}
	}

	for i := range validated {
		it := &validated[i]
		if it.Derived == "" || !it.Valid {
			it.Derived = ""
			continue
		}
		shorthand, ok := derivedShorthand[it.Derived]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown derived flag %q on %s/%s", it.Derived, it.Source, it.Metric))
			it.Derived = ""
			continue
		}

		denom, err := resolveDenominator(it.Source, shorthand.denominator, cat)
		if err != nil {
			warnings = append(warnings, err.Error())
			it.Derived = ""
			continue
		}

		spec := domain.DerivedSpec{
			Numerator:   domain.Ref{Source: it.Source, Metric: it.Metric},
			Denominator: denom,
			Multiplier:  shorthand.multiplier,
			Label:       strings.TrimSpace(cat.MetricLabel(it.Source, it.Metric) + " " + shorthand.labelSuffix),
		}
		if !specKeys[spec.Key()] {
			specKeys[spec.Key()] = true
			specs = append(specs, spec)
		}

		sibling := domain.OrderItem{
			Source:        denom.Source,
			Metric:        denom.Metric,
			Region:        it.Region,
			Locations:     it.Locations,
			Time:          it.Time,
			Mode:          domain.ModeAggregate,
			ForDerivation: true,
			Valid:         true,
		}

		// Clear the consumed flag before the append; growing the slice can
		// reallocate and orphan the pointer.
		it.Derived = ""

		if !seen[sibling.DedupeKey()] {
			seen[sibling.DedupeKey()] = true
			validated = append(validated, sibling)
		}
	}

	return validated, specs, warnings
}

// validateItem checks source, metric, and mode against the catalog. Internal
// metrics stay executable but are hidden from display listings.
func validateItem(it domain.OrderItem, cat *catalog.Catalog) domain.OrderItem {
	if it.Mode == "" {
		it.Mode = domain.ModeAggregate
	}

	if !cat.HasSource(it.Source) {
		it.Valid = false
		it.Error = fmt.Sprintf("unknown source %q", it.Source)
		return it
	}

	if it.Mode == domain.ModeEvents {
		if _, ok := cat.EventFile(it.Source, it.EventFile); !ok {
			it.Valid = false
			it.Error = fmt.Sprintf("source %q has no event file %q", it.Source, it.EventFile)
			return it
		}
		it.Valid = true
		it.Error = ""
		return it
	}

	if !cat.HasMetric(it.Source, it.Metric) {
		it.Valid = false
		it.Error = fmt.Sprintf("source %q has no metric %q", it.Source, it.Metric)
		return it
	}
	if src := cat.Sources[it.Source]; src.Metrics[it.Metric].Internal {
		it.ForDerivation = true
	}

	it.Valid = true
	it.Error = ""
	return it
}

// normalizeSpec resolves a model-supplied spec's refs to concrete
// source/metric pairs. A bare ref resolves against the single valid item
// carrying that metric; ambiguous or unknown refs are a validation error for
// this spec only. Returns a hidden sibling item when the denominator has no
// carrier in the order yet.
func normalizeSpec(raw domain.DerivedSpec, items []domain.OrderItem, cat *catalog.Catalog) (domain.DerivedSpec, *domain.OrderItem, error) {
	num, numItem, err := resolveRef(raw.Numerator, items, cat)
	if err != nil {
		return domain.DerivedSpec{}, nil, fmt.Errorf("derived spec %q numerator: %w", raw.Label, err)
	}
	denom, denomItem, err := resolveRef(raw.Denominator, items, cat)
	if err != nil && numItem != nil {
		// Fall back to the canonical-denominator table.
		if ref, ok := cat.Denominators[raw.Denominator.Metric]; ok && cat.HasMetric(ref.Source, ref.Metric) {
			denom, err = domain.Ref{Source: ref.Source, Metric: ref.Metric}, nil
		}
	}
	if err != nil {
		return domain.DerivedSpec{}, nil, fmt.Errorf("derived spec %q denominator: %w", raw.Label, err)
	}

	spec := domain.DerivedSpec{
		Numerator:   num,
		Denominator: denom,
		Multiplier:  raw.Multiplier,
		Label:       raw.Label,
	}
	if spec.Label == "" {
		spec.Label = cat.MetricLabel(num.Source, num.Metric) + " / " + cat.MetricLabel(denom.Source, denom.Metric)
	}

	if denomItem != nil || numItem == nil {
		return spec, nil, nil
	}
	sibling := &domain.OrderItem{
		Source:        denom.Source,
		Metric:        denom.Metric,
		Region:        numItem.Region,
		Locations:     numItem.Locations,
		Time:          numItem.Time,
		Mode:          domain.ModeAggregate,
		ForDerivation: true,
		Valid:         true,
	}
	return spec, sibling, nil
}

// resolveRef pins a ref to exactly one concrete source/metric pair and, when
// present, the order item that carries it.
func resolveRef(ref domain.Ref, items []domain.OrderItem, cat *catalog.Catalog) (domain.Ref, *domain.OrderItem, error) {
	if ref.Metric == "" {
		return domain.Ref{}, nil, fmt.Errorf("empty metric ref")
	}

	if ref.Source != "" {
		if !cat.HasMetric(ref.Source, ref.Metric) {
			return domain.Ref{}, nil, fmt.Errorf("unknown metric %s:%s", ref.Source, ref.Metric)
		}
		for i := range items {
			if items[i].Valid && items[i].Source == ref.Source && items[i].Metric == ref.Metric {
				return ref, &items[i], nil
			}
		}
		return ref, nil, nil
	}

	// Bare ref: must resolve to exactly one valid item.
	var carrier *domain.OrderItem
	for i := range items {
		if !items[i].Valid || items[i].Metric != ref.Metric {
			continue
		}
		if carrier != nil && carrier.Source != items[i].Source {
			return domain.Ref{}, nil, fmt.Errorf("metric ref %q is ambiguous across sources", ref.Metric)
		}
		carrier = &items[i]
	}
	if carrier == nil {
		return domain.Ref{}, nil, fmt.Errorf("metric ref %q matches no order item", ref.Metric)
	}
	return domain.Ref{Source: carrier.Source, Metric: ref.Metric}, carrier, nil
}

// resolveDenominator finds the concrete source/metric pair for a logical
// denominator name: the numerator's own source when it carries the metric,
// otherwise the canonical-source table. An unresolvable ref is a validation
// warning, never a runtime crash.
func resolveDenominator(numeratorSource, denominator string, cat *catalog.Catalog) (domain.Ref, error) {
	if cat.HasMetric(numeratorSource, denominator) {
		return domain.Ref{Source: numeratorSource, Metric: denominator}, nil
	}
	if ref, ok := cat.Denominators[denominator]; ok {
		if cat.HasMetric(ref.Source, ref.Metric) {
			return domain.Ref{Source: ref.Source, Metric: ref.Metric}, nil
		}
	}
	return domain.Ref{}, fmt.Errorf("denominator %q is not resolvable for source %q", denominator, numeratorSource)
}

// DisplayLabels lists the human-facing labels of an order: every valid item
// not held purely for derivation, plus each derived label.
func DisplayLabels(items []domain.OrderItem, specs []domain.DerivedSpec, cat *catalog.Catalog) []string {
	var out []string
	for _, it := range items {
		if !it.Valid || it.ForDerivation || it.Mode == domain.ModeEvents {
			continue
		}
		out = append(out, cat.MetricLabel(it.Source, it.Metric))
	}
	for _, spec := range specs {
		out = append(out, spec.Label)
	}
	return out
}
