package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/geo-query-service/internal/domain"
	"github.com/couchcryptid/geo-query-service/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGenerator struct {
	lastQuery    string
	lastViewport *domain.Viewport
}

func (g *fakeGenerator) Generate(query string, viewport *domain.Viewport) *domain.CandidateSet {
	g.lastQuery = query
	g.lastViewport = viewport
	return &domain.CandidateSet{Query: query, Candidates: map[domain.CandidateKind][]domain.Candidate{}}
}

type fakeRouter struct {
	resp   *domain.Response
	called bool
}

func (r *fakeRouter) Route(_ context.Context, cs *domain.CandidateSet, _ *domain.Conversation) *domain.Response {
	r.called = true
	return r.resp
}

type fakeAnalytics struct {
	audits []domain.QueryAudit
	err    error
}

func (a *fakeAnalytics) Publish(_ context.Context, audit domain.QueryAudit) error {
	a.audits = append(a.audits, audit)
	return a.err
}

func TestProcess(t *testing.T) {
	gen := &fakeGenerator{}
	rt := &fakeRouter{resp: &domain.Response{Type: domain.ResponseChat, Message: "hi", Warnings: []string{"w"}}}
	analytics := &fakeAnalytics{}

	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	p := New(gen, rt, analytics, discardLogger(), observability.NewMetricsForTesting())

	viewport := &domain.Viewport{MinLat: 1, MinLon: 2, MaxLat: 3, MaxLon: 4}
	resp := p.Process(context.Background(), "req-1", domain.QueryRequest{
		Query:    "  population of japan  ",
		Viewport: viewport,
	})

	assert.Equal(t, domain.ResponseChat, resp.Type)
	assert.True(t, rt.called)
	assert.Equal(t, "population of japan", gen.lastQuery, "query is trimmed")
	assert.Equal(t, viewport, gen.lastViewport)

	require.Len(t, analytics.audits, 1)
	audit := analytics.audits[0]
	assert.Equal(t, "req-1", audit.RequestID)
	assert.Equal(t, "population of japan", audit.Query)
	assert.Equal(t, "chat", audit.ResponseType)
	assert.Equal(t, 1, audit.WarningCount)
	assert.Equal(t, time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC), audit.ReceivedAt)
}

func TestProcessEmptyQuery(t *testing.T) {
	gen := &fakeGenerator{}
	rt := &fakeRouter{resp: &domain.Response{Type: domain.ResponseOrder}}

	p := New(gen, rt, nil, discardLogger(), observability.NewMetricsForTesting())

	resp := p.Process(context.Background(), "req-2", domain.QueryRequest{Query: "   "})
	assert.Equal(t, domain.ResponseChat, resp.Type)
	assert.False(t, rt.called, "empty queries never reach the router")
}

func TestProcessAnalyticsFailureIsNonFatal(t *testing.T) {
	gen := &fakeGenerator{}
	rt := &fakeRouter{resp: domain.ChatResponse("ok")}
	analytics := &fakeAnalytics{err: errors.New("broker down")}

	p := New(gen, rt, analytics, discardLogger(), observability.NewMetricsForTesting())

	resp := p.Process(context.Background(), "req-3", domain.QueryRequest{Query: "anything"})
	assert.Equal(t, domain.ResponseChat, resp.Type, "analytics failure never fails the query")
}

func TestProcessWithoutAnalytics(t *testing.T) {
	p := New(&fakeGenerator{}, &fakeRouter{resp: domain.ChatResponse("ok")}, nil,
		discardLogger(), observability.NewMetricsForTesting())

	resp := p.Process(context.Background(), "req-4", domain.QueryRequest{Query: "anything"})
	assert.NotNil(t, resp)
}

func TestCheckReadiness(t *testing.T) {
	p := New(&fakeGenerator{}, &fakeRouter{resp: domain.ChatResponse("ok")}, nil,
		discardLogger(), observability.NewMetricsForTesting())
	assert.NoError(t, p.CheckReadiness(context.Background()))
}
