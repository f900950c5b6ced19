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
)

// FalConfig configures the Fal backend.
type FalConfig struct {
	APIKey     string
	BaseURL    string // default https://fal.run
	Model      string // default fal-ai/flux/dev
	Timeout    time.Duration
	HTTPClient *http.Client
}

// FalBackend generates character-consistent images from a reference image.
type FalBackend struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	breaker *llm.CircuitBreaker
}

type falRequest struct {
	Prompt        string  `json:"prompt"`
	ImageURL      string  `json:"image_url,omitempty"`
	ImageSize     string  `json:"image_size"`
	Seed          int     `json:"seed,omitempty"`
	GuidanceScale float64 `json:"guidance_scale"`
	Scale         float64 `json:"scale,omitempty"`
	NumImages     int     `json:"num_images"`
}

type falResponse struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
	Seed int `json:"seed"`
}

// NewFalBackend creates a Fal backend.
func NewFalBackend(cfg FalConfig, logger *zap.Logger) (*FalBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("fal: %w", llm.ErrNoAPIKey)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://fal.run"
	}
	if cfg.Model == "" {
		cfg.Model = "fal-ai/flux/dev"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &FalBackend{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  defaultHTTPClient(cfg.HTTPClient, cfg.Timeout),
		breaker: llm.NewCircuitBreaker(llm.CircuitBreakerConfig{Name: "fal"}, logger),
	}, nil
}

func (b *FalBackend) Name() string  { return "fal" }
func (b *FalBackend) Model() string { return b.model }

// falImageSize maps pixel sizes onto Fal's named presets.
func falImageSize(size string) string {
	switch size {
	case SizeLandscape:
		return "landscape_16_9"
	case SizePortrait:
		return "portrait_16_9"
	default:
		return "square_hd"
	}
}

// Generate requests one image and returns its hosted URL.
func (b *FalBackend) Generate(ctx context.Context, prompt string, req ImageRequest) (string, error) {
	body := falRequest{
		Prompt:        prompt,
		ImageURL:      req.ReferenceImageURL,
		ImageSize:     falImageSize(req.Size),
		Seed:          req.Seed,
		GuidanceScale: 3.5,
		NumImages:     1,
	}
	if req.ReferenceImageURL != "" {
		body.Scale = 0.8
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	return llm.Guard(ctx, b.breaker, func() (string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/"+b.model, bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Key "+b.apiKey)

		resp, err := b.client.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return "", statusError("fal", resp)
		}

		var out falResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if len(out.Images) == 0 || out.Images[0].URL == "" {
			return "", fmt.Errorf("fal: %w", llm.ErrEmptyResponse)
		}
		return out.Images[0].URL, nil
	})
}
