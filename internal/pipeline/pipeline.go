// Package pipeline orchestrates one query end to end: generate candidates,
// route, record metrics, and publish the analytics audit. Each Process call
// is independent; the pipeline holds no per-conversation state.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/geo-query-service/internal/domain"
	"github.com/couchcryptid/geo-query-service/internal/observability"
)

// CandidateGenerator runs the deterministic pre-analysis over a query.
type CandidateGenerator interface {
	Generate(query string, viewport *domain.Viewport) *domain.CandidateSet
}

// ResponseRouter turns a candidate set and conversation state into the final
// tagged response.
type ResponseRouter interface {
	Route(ctx context.Context, cs *domain.CandidateSet, conv *domain.Conversation) *domain.Response
}

// AnalyticsPublisher records one query audit. Implementations must tolerate
// being called concurrently.
type AnalyticsPublisher interface {
	Publish(ctx context.Context, audit domain.QueryAudit) error
}

// Pipeline wires the stages together.
type Pipeline struct {
	generator CandidateGenerator
	router    ResponseRouter
	analytics AnalyticsPublisher // nil when analytics is disabled
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Pipeline. analytics may be nil.
func New(g CandidateGenerator, r ResponseRouter, analytics AnalyticsPublisher, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	p := &Pipeline{
		generator: g,
		router:    r,
		analytics: analytics,
		logger:    logger,
		metrics:   metrics,
	}
	p.ready.Store(true)
	return p
}

// CheckReadiness returns nil when the pipeline can serve queries.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline is not ready")
	}
	return nil
}

// Process runs one query through the pipeline. It always returns a response;
// empty queries short-circuit to chat.
func (p *Pipeline) Process(ctx context.Context, requestID string, req domain.QueryRequest) *domain.Response {
	start := time.Now()
	p.metrics.QueriesReceived.Inc()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		resp := domain.ChatResponse("Please enter a question about the map.")
		p.finish(ctx, requestID, query, resp, start)
		return resp
	}

	cs := p.generator.Generate(query, req.Viewport)
	p.logger.Debug("candidates generated", "request_id", requestID,
		"sources", len(cs.ByKind(domain.CandidateSource)),
		"locations", len(cs.ByKind(domain.CandidateLocation)),
		"intents", len(cs.ByKind(domain.CandidateIntent)))

	resp := p.router.Route(ctx, cs, req.Conversation)
	p.finish(ctx, requestID, query, resp, start)
	return resp
}

func (p *Pipeline) finish(ctx context.Context, requestID, query string, resp *domain.Response, start time.Time) {
	elapsed := time.Since(start)
	p.metrics.Responses.WithLabelValues(string(resp.Type)).Inc()
	p.metrics.QueryDuration.Observe(elapsed.Seconds())
	if n := len(resp.Warnings); n > 0 {
		p.metrics.ExecutionWarnings.Add(float64(n))
	}

	p.logger.Info("query processed", "request_id", requestID,
		"type", resp.Type, "warnings", len(resp.Warnings), "duration", elapsed)

	if p.analytics == nil {
		return
	}
	audit := domain.QueryAudit{
		RequestID:    requestID,
		Query:        query,
		ResponseType: string(resp.Type),
		WarningCount: len(resp.Warnings),
		DurationMS:   elapsed.Milliseconds(),
		ReceivedAt:   domain.Clock().Now().UTC(),
	}
	if err := p.analytics.Publish(ctx, audit); err != nil {
		p.metrics.AnalyticsErrors.Inc()
		p.logger.Warn("analytics publish failed", "request_id", requestID, "error", err)
	}
}
