package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/llm"
	"github.com/scrypster/storyforge/internal/retry"
)

// ElevenLabsConfig configures the ElevenLabs client shared by speech and
// sound effects.
type ElevenLabsConfig struct {
	APIKey     string
	BaseURL    string        // default https://api.elevenlabs.io
	Timeout    time.Duration // default 60s
	HTTPClient *http.Client
	Retry      Retry
}

// ElevenLabs is a minimal client for the endpoints the story engine uses.
type ElevenLabs struct {
	apiKey  string
	baseURL string
	client  *http.Client
	retry   Retry
	breaker *llm.CircuitBreaker
	logger  *zap.Logger
}

// NewElevenLabs creates a client.
func NewElevenLabs(cfg ElevenLabsConfig, logger *zap.Logger) (*ElevenLabs, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs: %w", llm.ErrNoAPIKey)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElevenLabs{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  defaultHTTPClient(cfg.HTTPClient, cfg.Timeout),
		retry:   cfg.Retry,
		breaker: llm.NewCircuitBreaker(llm.CircuitBreakerConfig{Name: "elevenlabs"}, logger),
		logger:  logger.Named("elevenlabs"),
	}, nil
}

// postAudio sends a JSON body and returns the audio bytes, retrying
// transient failures.
func (c *ElevenLabs) postAudio(ctx context.Context, name, path string, body any) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return retry.Do(ctx, retry.Policy{
		Name:        name,
		MaxAttempts: c.retry.MaxAttempts,
		BaseDelay:   c.retry.BaseDelay,
		Logger:      c.logger,
	}, func(ctx context.Context, _ int) ([]byte, error) {
		return llm.Guard(ctx, c.breaker, func() ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
			if err != nil {
				return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "audio/mpeg")
			req.Header.Set("xi-api-key", c.apiKey)
			return c.do(req)
		})
	})
}

func (c *ElevenLabs) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, statusError("elevenlabs", resp)
	}
	b, err := readBody(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("elevenlabs: %w", llm.ErrEmptyResponse)
	}
	return b, nil
}

// getJSON fetches path and decodes the response into out.
func (c *ElevenLabs) getJSON(ctx context.Context, path string, out any) error {
	_, err := retry.Do(ctx, retry.Policy{
		Name:        "elevenlabs " + path,
		MaxAttempts: c.retry.MaxAttempts,
		BaseDelay:   c.retry.BaseDelay,
		Logger:      c.logger,
	}, func(ctx context.Context, _ int) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return struct{}{}, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("xi-api-key", c.apiKey)
		b, err := c.do(req)
		if err != nil {
			return struct{}{}, err
		}
		if err := json.Unmarshal(b, out); err != nil {
			return struct{}{}, retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return struct{}{}, nil
	})
	return err
}
