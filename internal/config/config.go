package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// DataDir is the root of the table store: catalog.json plus per-source
	// table, event, and geometry files.
	DataDir string

	// Gemini model configuration.
	GeminiAPIKey   string
	GeminiModel    string
	GeminiEndpoint string
	GeminiTimeout  time.Duration

	// Query analytics publishing (feature-flagged via ANALYTICS_ENABLED).
	KafkaBrokers     []string
	AnalyticsTopic   string
	AnalyticsEnabled bool

	DefaultEventLimit int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	geminiTimeoutStr := sharedcfg.EnvOrDefault("GEMINI_TIMEOUT", "30s")
	geminiTimeout, err2 := time.ParseDuration(geminiTimeoutStr)
	if err2 != nil || geminiTimeout <= 0 {
		return nil, errors.New("invalid GEMINI_TIMEOUT")
	}

	analyticsEnabled := false
	if v := os.Getenv("ANALYTICS_ENABLED"); v != "" {
		analyticsEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DataDir: sharedcfg.EnvOrDefault("DATA_DIR", "./data"),

		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    sharedcfg.EnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiEndpoint: os.Getenv("GEMINI_ENDPOINT"),
		GeminiTimeout:  geminiTimeout,

		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		AnalyticsTopic:   sharedcfg.EnvOrDefault("ANALYTICS_TOPIC", "geo-query-analytics"),
		AnalyticsEnabled: analyticsEnabled,

		DefaultEventLimit: parseDefaultEventLimit(),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if cfg.AnalyticsEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("ANALYTICS_ENABLED is true but KAFKA_BROKERS is not set")
	}

	return cfg, nil
}

func parseDefaultEventLimit() int {
	if s := os.Getenv("DEFAULT_EVENT_LIMIT"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 500
}
