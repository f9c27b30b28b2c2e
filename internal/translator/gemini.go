package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// GeminiModel implements Model against the Google Gemini REST API. This is
// the only type in the service that talks to an external AI endpoint.
type GeminiModel struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini-backed model with sensible defaults.
func NewGemini(cfg Config, logger *slog.Logger) *GeminiModel {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta/models"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GeminiModel{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Decide sends the prompt and parses the structured reply. A transport or
// parse failure is returned as an error; the caller maps it to a terminal
// chat response, never a partial order.
func (g *GeminiModel) Decide(ctx context.Context, prompt string) (*Decision, error) {
	start := time.Now()
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("gemini call: %w", err)
	}
	g.logger.Debug("model replied", "duration", time.Since(start), "bytes", len(text))

	decision, err := ParseDecision(text)
	if err != nil {
		return nil, fmt.Errorf("gemini reply: %w", err)
	}
	return decision, nil
}

func (g *GeminiModel) generate(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", g.config.Endpoint, g.config.Model, g.config.APIKey)

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %.200s", resp.StatusCode, data)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("api error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
