package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/geo-query-service/internal/catalog"
	"github.com/couchcryptid/geo-query-service/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog() *catalog.Catalog {
	return catalog.New(
		map[string]catalog.Source{
			"worldbank": {
				ID:   "worldbank",
				Name: "World Bank",
				Metrics: map[string]catalog.Metric{
					"population": {Name: "population", Label: "Population"},
					"gdp":        {Name: "gdp", Label: "GDP"},
				},
			},
			"noaa": {
				ID:   "noaa",
				Name: "National Oceanic and Atmospheric Administration",
				Metrics: map[string]catalog.Metric{
					"storm_count": {Name: "storm_count", Label: "Storm Count"},
				},
			},
			"usgs": {
				ID:   "usgs",
				Name: "US Geological Survey",
				Metrics: map[string]catalog.Metric{
					"quake_count": {Name: "quake_count", Label: "Earthquake Count"},
				},
				EventFiles: map[string]catalog.EventFile{
					"events": {
						Key:                "events",
						Geometry:           "point",
						SignificanceFields: []string{"magnitude", "depth"},
						MaxLimit:           3,
					},
				},
			},
			"firms": {
				ID:   "firms",
				Name: "Fire Information for Resource Management",
				Metrics: map[string]catalog.Metric{
					"burned_km2": {Name: "burned_km2", Label: "Burned Area"},
				},
				EventFiles: map[string]catalog.EventFile{
					"perimeters": {
						Key:                "perimeters",
						Geometry:           "polygon",
						SignificanceFields: []string{"area_km2"},
						MaxLimit:           2000,
					},
				},
			},
		},
		[]catalog.Location{
			{Code: "SE", Name: "Sweden", Level: "country"},
			{Code: "NO", Name: "Norway", Level: "country"},
			{Code: "DK", Name: "Denmark", Level: "country"},
			{Code: "JP", Name: "Japan", Level: "country"},
		},
		map[string][]string{"scandinavia": {"SE", "NO", "DK"}},
		map[string]catalog.DenominatorRef{
			"population": {Source: "worldbank", Metric: "population"},
		},
	)
}

// fakeStorage serves canned rows, events, and geometry, counting table reads.
type fakeStorage struct {
	tables map[string][]Row // keyed source|fileKey
	events map[string][]domain.EventRecord
	geoms  map[string]json.RawMessage

	tableReads int
}

func (f *fakeStorage) ReadTable(_ context.Context, sourceID, fileKey string) ([]Row, error) {
	f.tableReads++
	return f.tables[sourceID+"|"+fileKey], nil
}

func (f *fakeStorage) ReadEvents(_ context.Context, sourceID, fileKey string) ([]domain.EventRecord, error) {
	return f.events[sourceID+"|"+fileKey], nil
}

func (f *fakeStorage) ResolveGeometry(_ context.Context, codes []string) ([]GeometryFeature, error) {
	var out []GeometryFeature
	for _, code := range codes {
		if g, ok := f.geoms[code]; ok {
			out = append(out, GeometryFeature{LocationCode: code, Geometry: g})
		}
	}
	return out, nil
}

func aggItem(source, metric, region string) domain.OrderItem {
	return domain.OrderItem{Source: source, Metric: metric, Region: region, Mode: domain.ModeAggregate, Valid: true}
}

func TestExecuteUnionBeforeFill(t *testing.T) {
	store := &fakeStorage{
		tables: map[string][]Row{
			"worldbank|data": {
				{LocationCode: "SE", Year: 2020, Values: map[string]float64{"population": 10.4e6}},
				{LocationCode: "NO", Year: 2020, Values: map[string]float64{"population": 5.4e6}},
			},
			"noaa|data": {
				{LocationCode: "JP", Year: 2020, Values: map[string]float64{"storm_count": 26}},
			},
		},
	}
	eng := New(testCatalog(), store, discardLogger(), 0)

	jpItem := domain.OrderItem{Source: "noaa", Metric: "storm_count", Locations: []string{"JP"}, Mode: domain.ModeAggregate, Valid: true}
	boxes, warnings, err := eng.Execute(context.Background(),
		[]domain.OrderItem{aggItem("worldbank", "population", "scandinavia"), jpItem}, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, []string{"SE", "NO", "DK", "JP"}, boxes.Codes,
		"box domain is the union of every item's codes")

	v, ok := boxes.Get("SE", "population")
	require.True(t, ok)
	assert.Equal(t, 10.4e6, v)

	// Denmark was targeted but never reported: its box stays empty, never
	// zero-filled.
	_, ok = boxes.Get("DK", "population")
	assert.False(t, ok)
	assert.Empty(t, boxes.Boxes["DK"])

	// Japan carries only its own item's metric.
	_, ok = boxes.Get("JP", "population")
	assert.False(t, ok)
	v, ok = boxes.Get("JP", "storm_count")
	require.True(t, ok)
	assert.Equal(t, 26.0, v)
}

func TestExecuteTimeSelection(t *testing.T) {
	store := &fakeStorage{
		tables: map[string][]Row{
			"worldbank|data": {
				{LocationCode: "SE", Year: 2000, Values: map[string]float64{"population": 100}},
				{LocationCode: "SE", Year: 2010, Values: map[string]float64{"population": 200}},
				{LocationCode: "SE", Year: 2020, Values: map[string]float64{"population": 300}},
			},
		},
	}
	eng := New(testCatalog(), store, discardLogger(), 0)

	t.Run("no range picks latest", func(t *testing.T) {
		boxes, _, err := eng.Execute(context.Background(),
			[]domain.OrderItem{aggItem("worldbank", "population", "SE")}, nil)
		require.NoError(t, err)
		v, _ := boxes.Get("SE", "population")
		assert.Equal(t, 300.0, v)
	})

	t.Run("range picks latest inside it", func(t *testing.T) {
		it := aggItem("worldbank", "population", "SE")
		it.Time = domain.TimeSpec{StartYear: 2000, EndYear: 2012}
		boxes, _, err := eng.Execute(context.Background(), []domain.OrderItem{it}, nil)
		require.NoError(t, err)
		v, _ := boxes.Get("SE", "population")
		assert.Equal(t, 200.0, v)
	})
}

func TestExecuteReadsEachTableOnce(t *testing.T) {
	store := &fakeStorage{
		tables: map[string][]Row{
			"worldbank|data": {
				{LocationCode: "SE", Year: 2020, Values: map[string]float64{"population": 1, "gdp": 2}},
			},
		},
	}
	eng := New(testCatalog(), store, discardLogger(), 0)

	_, _, err := eng.Execute(context.Background(), []domain.OrderItem{
		aggItem("worldbank", "population", "SE"),
		aggItem("worldbank", "gdp", "SE"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, store.tableReads)
}

func TestExecuteUnknownRegion(t *testing.T) {
	store := &fakeStorage{tables: map[string][]Row{}}
	eng := New(testCatalog(), store, discardLogger(), 0)

	boxes, warnings, err := eng.Execute(context.Background(),
		[]domain.OrderItem{aggItem("worldbank", "population", "atlantis")}, nil)
	require.NoError(t, err)
	assert.Empty(t, boxes.Codes)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `unknown region "atlantis"`)
}

func TestComputeDerived(t *testing.T) {
	store := &fakeStorage{
		tables: map[string][]Row{
			"noaa|data": {
				{LocationCode: "SE", Year: 2020, Values: map[string]float64{"storm_count": 5}},
				{LocationCode: "NO", Year: 2020, Values: map[string]float64{"storm_count": 3}},
				{LocationCode: "DK", Year: 2020, Values: map[string]float64{"storm_count": 2}},
			},
			"worldbank|data": {
				{LocationCode: "SE", Year: 2020, Values: map[string]float64{"population": 1000}},
				{LocationCode: "NO", Year: 2020, Values: map[string]float64{"population": 0}},
			},
		},
	}
	eng := New(testCatalog(), store, discardLogger(), 0)

	spec := domain.DerivedSpec{
		Numerator:   domain.Ref{Source: "noaa", Metric: "storm_count"},
		Denominator: domain.Ref{Source: "worldbank", Metric: "population"},
		Multiplier:  100,
		Label:       "Storms Per 100",
	}
	sibling := aggItem("worldbank", "population", "scandinavia")
	sibling.ForDerivation = true

	boxes, warnings, err := eng.Execute(context.Background(),
		[]domain.OrderItem{aggItem("noaa", "storm_count", "scandinavia"), sibling},
		[]domain.DerivedSpec{spec})
	require.NoError(t, err)

	v, ok := boxes.Get("SE", "Storms Per 100")
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	// Zero denominator skips the box with a warning; the label never appears
	// so no Inf leaks out.
	_, ok = boxes.Get("NO", "Storms Per 100")
	assert.False(t, ok)

	// Missing denominator behaves the same way.
	_, ok = boxes.Get("DK", "Storms Per 100")
	assert.False(t, ok)

	require.Len(t, warnings, 2)
	assert.Contains(t, warnings, "NO: population unavailable")
	assert.Contains(t, warnings, "DK: population unavailable")
}

func TestComputeDerivedCanonicalFallback(t *testing.T) {
	store := &fakeStorage{
		tables: map[string][]Row{
			"noaa|data": {
				{LocationCode: "SE", Year: 2020, Values: map[string]float64{"storm_count": 5}},
			},
			"worldbank|data": {
				{LocationCode: "SE", Year: 2020, Values: map[string]float64{"population": 1000}},
			},
		},
	}
	eng := New(testCatalog(), store, discardLogger(), 0)

	// No worldbank item in the order: the denominator value comes from the
	// canonical table read on demand.
	spec := domain.DerivedSpec{
		Numerator:   domain.Ref{Source: "noaa", Metric: "storm_count"},
		Denominator: domain.Ref{Source: "worldbank", Metric: "population"},
		Label:       "Storms Per Person",
	}
	boxes, warnings, err := eng.Execute(context.Background(),
		[]domain.OrderItem{aggItem("noaa", "storm_count", "SE")},
		[]domain.DerivedSpec{spec})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	v, ok := boxes.Get("SE", "Storms Per Person")
	require.True(t, ok)
	assert.Equal(t, 0.005, v, "multiplier zero defaults to one")
}

func TestComputeDerivedSharedFallbackTable(t *testing.T) {
	store := &fakeStorage{
		tables: map[string][]Row{
			"noaa|data": {
				{LocationCode: "SE", Year: 2020, Values: map[string]float64{"storm_count": 5}},
			},
			"worldbank|data": {
				{LocationCode: "SE", Year: 2020, Values: map[string]float64{"population": 1000, "gdp": 500}},
			},
		},
	}
	eng := New(testCatalog(), store, discardLogger(), 0)

	// Two denominators from the same uncarried source: the second fallback
	// must reuse the table fetched for the first.
	specs := []domain.DerivedSpec{
		{Numerator: domain.Ref{Source: "noaa", Metric: "storm_count"}, Denominator: domain.Ref{Source: "worldbank", Metric: "population"}, Label: "Per Person"},
		{Numerator: domain.Ref{Source: "noaa", Metric: "storm_count"}, Denominator: domain.Ref{Source: "worldbank", Metric: "gdp"}, Label: "Per GDP"},
	}
	boxes, warnings, err := eng.Execute(context.Background(),
		[]domain.OrderItem{aggItem("noaa", "storm_count", "SE")}, specs)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	v, ok := boxes.Get("SE", "Per Person")
	require.True(t, ok)
	assert.Equal(t, 0.005, v)
	v, ok = boxes.Get("SE", "Per GDP")
	require.True(t, ok)
	assert.Equal(t, 0.01, v)

	assert.Equal(t, 2, store.tableReads, "one read for noaa, one for worldbank")
}

func TestBuildFeatures(t *testing.T) {
	store := &fakeStorage{
		tables: map[string][]Row{
			"worldbank|data": {
				{LocationCode: "SE", Year: 2020, Values: map[string]float64{"population": 100}},
				{LocationCode: "NO", Year: 2020, Values: map[string]float64{"population": 50}},
			},
		},
		geoms: map[string]json.RawMessage{
			"SE": json.RawMessage(`{"type":"Polygon","coordinates":[]}`),
		},
	}
	eng := New(testCatalog(), store, discardLogger(), 0)

	boxes, _, err := eng.Execute(context.Background(),
		[]domain.OrderItem{aggItem("worldbank", "population", "scandinavia")}, nil)
	require.NoError(t, err)

	fc, err := eng.BuildFeatures(context.Background(), boxes)
	require.NoError(t, err)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 3)

	se := fc.Features[0]
	assert.Equal(t, "SE", se.Properties["location_code"])
	assert.Equal(t, "Sweden", se.Properties["name"])
	assert.Equal(t, 100.0, se.Properties["population"])
	assert.NotNil(t, se.Geometry)

	// Norway has data but no stored geometry; it still appears.
	no := fc.Features[1]
	assert.Equal(t, "NO", no.Properties["location_code"])
	assert.Nil(t, no.Geometry)
}
