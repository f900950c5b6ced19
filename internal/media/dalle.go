package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/llm"
)

// imagesAPI is the subset of the openai-go image service the backend uses.
type imagesAPI interface {
	Generate(ctx context.Context, body openai.ImageGenerateParams, opts ...option.RequestOption) (*openai.ImagesResponse, error)
}

// DalleConfig configures the DALL-E backend.
type DalleConfig struct {
	APIKey  string
	BaseURL string
	Model   string        // default dall-e-3
	Timeout time.Duration // default 90s
}

// DalleBackend generates images with the OpenAI images API.
type DalleBackend struct {
	images  imagesAPI
	model   string
	breaker *llm.CircuitBreaker
}

// NewDalleBackend creates a DALL-E backend.
func NewDalleBackend(cfg DalleConfig, logger *zap.Logger) (*DalleBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("dall-e: %w", llm.ErrNoAPIKey)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return newDalleBackend(&client.Images, cfg.Model, logger), nil
}

func newDalleBackend(images imagesAPI, model string, logger *zap.Logger) *DalleBackend {
	if model == "" {
		model = "dall-e-3"
	}
	return &DalleBackend{
		images:  images,
		model:   model,
		breaker: llm.NewCircuitBreaker(llm.CircuitBreakerConfig{Name: "dall-e"}, logger),
	}
}

func (b *DalleBackend) Name() string  { return "dall-e" }
func (b *DalleBackend) Model() string { return b.model }

// Generate requests one image and returns its hosted URL.
func (b *DalleBackend) Generate(ctx context.Context, prompt string, req ImageRequest) (string, error) {
	params := openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(b.model),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize(req.Size),
		Quality:        openai.ImageGenerateParamsQuality(req.Quality),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	}
	return llm.Guard(ctx, b.breaker, func() (string, error) {
		resp, err := b.images.Generate(ctx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) {
				return "", &llm.ProviderError{Provider: "dall-e", StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
			}
			return "", fmt.Errorf("dall-e request failed: %w", err)
		}
		if resp == nil || len(resp.Data) == 0 || resp.Data[0].URL == "" {
			return "", fmt.Errorf("dall-e: %w", llm.ErrEmptyResponse)
		}
		return resp.Data[0].URL, nil
	})
}
