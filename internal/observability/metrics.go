package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the query pipeline.
type Metrics struct {
	QueriesReceived prometheus.Counter
	Responses       *prometheus.CounterVec // labels: type={order,navigate,disambiguate,events,chat}
	DirectRoutes    *prometheus.CounterVec // labels: route={show_all,plural,disambiguate}
	QueryDuration   prometheus.Histogram

	// Model consultation metrics.
	ModelRequests *prometheus.CounterVec // labels: outcome={success,error}
	ModelDuration prometheus.Histogram

	// Order execution metrics.
	OrderItems        prometheus.Histogram
	ValidationErrors  prometheus.Counter
	ExecutionWarnings prometheus.Counter

	AnalyticsErrors prometheus.Counter

	CatalogSources prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		QueriesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geo_query",
			Name:      "queries_received_total",
			Help:      "Total natural-language queries received.",
		}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geo_query",
			Name:      "responses_total",
			Help:      "Responses returned by tagged type.",
		}, []string{"type"}),
		DirectRoutes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geo_query",
			Name:      "direct_routes_total",
			Help:      "Queries resolved without a model consultation, by route.",
		}, []string{"route"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geo_query",
			Name:      "query_duration_seconds",
			Help:      "End-to-end duration of one query through the pipeline.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ModelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geo_query",
			Name:      "model_requests_total",
			Help:      "Language-model consultations by outcome.",
		}, []string{"outcome"}),
		ModelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geo_query",
			Name:      "model_duration_seconds",
			Help:      "Duration of one language-model round trip.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		OrderItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geo_query",
			Name:      "order_items",
			Help:      "Number of items per executed order, hidden siblings included.",
			Buckets:   []float64{1, 2, 3, 5, 8, 12, 20},
		}),
		ValidationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geo_query",
			Name:      "validation_errors_total",
			Help:      "Order items rejected by the validator.",
		}),
		ExecutionWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geo_query",
			Name:      "execution_warnings_total",
			Help:      "Warnings attached to responses during execution.",
		}),
		AnalyticsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geo_query",
			Name:      "analytics_errors_total",
			Help:      "Failed analytics publishes.",
		}),
		CatalogSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geo_query",
			Name:      "catalog_sources",
			Help:      "Number of data sources loaded from the catalog.",
		}),
	}

	prometheus.MustRegister(
		m.QueriesReceived,
		m.Responses,
		m.DirectRoutes,
		m.QueryDuration,
		m.ModelRequests,
		m.ModelDuration,
		m.OrderItems,
		m.ValidationErrors,
		m.ExecutionWarnings,
		m.AnalyticsErrors,
		m.CatalogSources,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		QueriesReceived:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "geo_query", Name: "queries_received_total"}),
		Responses:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "geo_query", Name: "responses_total"}, []string{"type"}),
		DirectRoutes:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "geo_query", Name: "direct_routes_total"}, []string{"route"}),
		QueryDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "geo_query", Name: "query_duration_seconds"}),
		ModelRequests:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "geo_query", Name: "model_requests_total"}, []string{"outcome"}),
		ModelDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "geo_query", Name: "model_duration_seconds"}),
		OrderItems:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "geo_query", Name: "order_items"}),
		ValidationErrors:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "geo_query", Name: "validation_errors_total"}),
		ExecutionWarnings: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "geo_query", Name: "execution_warnings_total"}),
		AnalyticsErrors:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "geo_query", Name: "analytics_errors_total"}),
		CatalogSources:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "geo_query", Name: "catalog_sources"}),
	}
}
