package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/geo-query-service/internal/adapter/httpapi"
	kafkaadapter "github.com/couchcryptid/geo-query-service/internal/adapter/kafka"
	"github.com/couchcryptid/geo-query-service/internal/adapter/tablestore"
	"github.com/couchcryptid/geo-query-service/internal/candidates"
	"github.com/couchcryptid/geo-query-service/internal/catalog"
	"github.com/couchcryptid/geo-query-service/internal/config"
	"github.com/couchcryptid/geo-query-service/internal/engine"
	"github.com/couchcryptid/geo-query-service/internal/observability"
	"github.com/couchcryptid/geo-query-service/internal/pipeline"
	"github.com/couchcryptid/geo-query-service/internal/router"
	"github.com/couchcryptid/geo-query-service/internal/translator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	cat, err := catalog.Load(cfg.DataDir)
	if err != nil {
		logger.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}
	metrics.CatalogSources.Set(float64(len(cat.Sources)))
	logger.Info("catalog loaded", "sources", len(cat.Sources), "locations", len(cat.Locations))

	store := tablestore.New(cfg.DataDir, cat, logger)
	eng := engine.New(cat, store, logger, cfg.DefaultEventLimit)

	model := translator.NewGemini(translator.Config{
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.GeminiModel,
		Endpoint: cfg.GeminiEndpoint,
		Timeout:  cfg.GeminiTimeout,
	}, logger)

	generator := candidates.New(cat)
	rt := router.New(cat, model, eng, logger, metrics)

	// Analytics publishing (feature-flagged via ANALYTICS_ENABLED).
	var analytics pipeline.AnalyticsPublisher
	var writer *kafkaadapter.Writer
	if cfg.AnalyticsEnabled {
		writer = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.AnalyticsTopic, logger)
		analytics = writer
		logger.Info("query analytics enabled", "topic", cfg.AnalyticsTopic)
	} else {
		logger.Info("query analytics disabled")
	}

	p := pipeline.New(generator, rt, analytics, logger, metrics)

	srv := httpapi.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
