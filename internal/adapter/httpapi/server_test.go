package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/geo-query-service/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProcessor struct {
	resp      *domain.Response
	readyErr  error
	requestID string
	req       domain.QueryRequest
}

func (p *fakeProcessor) Process(_ context.Context, requestID string, req domain.QueryRequest) *domain.Response {
	p.requestID = requestID
	p.req = req
	return p.resp
}

func (p *fakeProcessor) CheckReadiness(context.Context) error {
	return p.readyErr
}

func TestHandleQuery(t *testing.T) {
	proc := &fakeProcessor{resp: &domain.Response{Type: domain.ResponseChat, Message: "hello"}}
	srv := NewServer(":0", proc, discardLogger())

	body := `{"query":"population of japan","viewport":{"min_lat":30,"min_lon":128,"max_lat":46,"max_lon":146}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), "a request id is generated when absent")

	var resp domain.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.ResponseChat, resp.Type)
	assert.Equal(t, "hello", resp.Message)

	assert.Equal(t, "population of japan", proc.req.Query)
	require.NotNil(t, proc.req.Viewport)
	assert.Equal(t, 30.0, proc.req.Viewport.MinLat)
}

func TestHandleQueryRequestIDPassthrough(t *testing.T) {
	proc := &fakeProcessor{resp: domain.ChatResponse("ok")}
	srv := NewServer(":0", proc, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"hi"}`))
	req.Header.Set("X-Request-ID", "caller-id-7")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, "caller-id-7", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "caller-id-7", proc.requestID)
}

func TestHandleQueryBadBody(t *testing.T) {
	proc := &fakeProcessor{resp: domain.ChatResponse("ok")}
	srv := NewServer(":0", proc, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader("not-json{{{"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryMethodNotAllowed(t *testing.T) {
	srv := NewServer(":0", &fakeProcessor{resp: domain.ChatResponse("ok")}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/query", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := NewServer(":0", &fakeProcessor{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv := NewServer(":0", &fakeProcessor{}, discardLogger())

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not ready", func(t *testing.T) {
		srv := NewServer(":0", &fakeProcessor{readyErr: errors.New("catalog missing")}, discardLogger())

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "catalog missing")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer(":0", &fakeProcessor{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
