package translator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/geo-query-service/internal/domain"
)

func TestRawRefUnmarshal(t *testing.T) {
	t.Run("object form", func(t *testing.T) {
		var r RawRef
		require.NoError(t, json.Unmarshal([]byte(`{"source":"worldbank","metric":"population"}`), &r))
		assert.Equal(t, "worldbank", r.Source)
		assert.Equal(t, "population", r.Metric)
	})

	t.Run("string form with source", func(t *testing.T) {
		var r RawRef
		require.NoError(t, json.Unmarshal([]byte(`"worldbank:population"`), &r))
		assert.Equal(t, "worldbank", r.Source)
		assert.Equal(t, "population", r.Metric)
	})

	t.Run("bare string form", func(t *testing.T) {
		var r RawRef
		require.NoError(t, json.Unmarshal([]byte(`"population"`), &r))
		assert.Empty(t, r.Source)
		assert.Equal(t, "population", r.Metric)
	})
}

func TestDecisionOrderItems(t *testing.T) {
	d := &Decision{
		Type: "order",
		Items: []RawItem{
			{Source: "usgs", Metric: "quake_count", Region: "japan", Mode: "EVENTS",
				Filters: map[string]float64{"magnitude_min": 4}, Limit: 50},
			{Source: "worldbank", Metric: "population", Region: "japan", StartYear: 2010},
			{Source: "worldbank", Metric: "gdp", Region: "japan", Mode: "bogus"},
		},
	}

	items := d.OrderItems()
	require.Len(t, items, 3)

	assert.Equal(t, domain.ModeEvents, items[0].Mode, "mode is case-insensitive")
	require.Contains(t, items[0].Filters, "magnitude")
	assert.Equal(t, 4.0, *items[0].Filters["magnitude"].Min)
	assert.Equal(t, 50, items[0].Limit)

	assert.Equal(t, 2010, items[1].Time.StartYear)
	assert.Equal(t, 2010, items[1].Time.EndYear, "single year closes its own range")

	assert.Equal(t, domain.ModeAggregate, items[2].Mode, "unrecognized mode falls back to aggregate")

	// Items are untrusted until validated.
	for _, it := range items {
		assert.False(t, it.Valid)
	}
}

func TestDecisionDerivedSpecs(t *testing.T) {
	var d Decision
	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "order",
		"derived": [{
			"numerator": "usgs:quake_count",
			"denominator": {"source": "worldbank", "metric": "population"},
			"multiplier": 100000,
			"label": "Quakes Per 100k"
		}]
	}`), &d))

	specs := d.DerivedSpecs()
	require.Len(t, specs, 1)
	assert.Equal(t, domain.Ref{Source: "usgs", Metric: "quake_count"}, specs[0].Numerator)
	assert.Equal(t, domain.Ref{Source: "worldbank", Metric: "population"}, specs[0].Denominator)
	assert.Equal(t, 100000.0, specs[0].Multiplier)
	assert.Equal(t, "Quakes Per 100k", specs[0].Label)
}
