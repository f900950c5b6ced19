package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
)

// OpenAIConfig holds configuration for an OpenAI-compatible client. Venice
// uses the same client with its own base URL.
type OpenAIConfig struct {
	Provider string // log/usage label (default: openai)
	APIKey   string
	Model    string        // default: gpt-4o-mini
	BaseURL  string        // optional proxy or compatible endpoint
	Timeout  time.Duration // default: 120s
}

// chatCompletions is the subset of the openai-go service the client uses.
type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient implements ChatCompleter on top of openai-go. Calls run
// through a circuit breaker, budgets are sized per agent, and usage is
// forwarded to an optional recorder.
type OpenAIClient struct {
	cfg            OpenAIConfig
	completions    chatCompletions
	circuitBreaker *CircuitBreaker
	counter        *TokenCounter
	recorder       UsageRecorder
	logger         *zap.Logger
}

// NewOpenAIClient creates a new client with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig, recorder UsageRecorder, logger *zap.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s: %w", providerName(cfg.Provider), ErrNoAPIKey)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are owned by the retry package.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	opts = append(opts, option.WithRequestTimeout(cfg.Timeout))

	client := openai.NewClient(opts...)
	return newOpenAIClient(cfg, &client.Chat.Completions, recorder, logger), nil
}

func newOpenAIClient(cfg OpenAIConfig, completions chatCompletions, recorder UsageRecorder, logger *zap.Logger) *OpenAIClient {
	cfg.Provider = providerName(cfg.Provider)
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("llm").With(zap.String("provider", cfg.Provider))
	return &OpenAIClient{
		cfg:            cfg,
		completions:    completions,
		circuitBreaker: NewCircuitBreaker(CircuitBreakerConfig{Name: cfg.Provider}, logger),
		counter:        DefaultTokenCounter(),
		recorder:       recorder,
		logger:         logger,
	}
}

func providerName(p string) string {
	if p == "" {
		return "openai"
	}
	return p
}

// Provider returns the provider label.
func (c *OpenAIClient) Provider() string { return c.cfg.Provider }

// GetModel returns the default model name.
func (c *OpenAIClient) GetModel() string { return c.cfg.Model }

// Complete sends one chat completion and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.circuitBreaker.Execute(ctx, func() (*ChatResponse, error) {
		return c.complete(ctx, params)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("%s circuit breaker open: %w", c.cfg.Provider, err)
		}
		return nil, err
	}

	if c.recorder != nil && req.SessionID != "" {
		c.recorder.TrackCompletion(req.SessionID, c.cfg.Provider, resp.Model, resp.PromptTokens, resp.CompletionTokens)
	}
	return resp, nil
}

// buildParams sizes the output budget and selects the token parameter the
// model family accepts.
func (c *OpenAIClient) buildParams(req ChatRequest) (openai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	category := ClassifyAgent(req.Agent)
	budget := CalculateBudget(req.MaxTokens, category)
	input := c.counter.Count(req.System) + c.counter.Count(req.User)
	limit := ContextLimit(model)

	if _, err := ValidateUtilization(c.logger, input, budget, limit); err != nil {
		// Shrink the output budget to what the window can hold before giving up.
		if room := limit - input; room >= 1000 {
			budget = room
		} else {
			return openai.ChatCompletionNewParams{}, err
		}
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}

	switch TokenParam(model) {
	case ParamMaxCompletionTokens:
		params.MaxCompletionTokens = openai.Int(int64(budget))
	default:
		params.MaxTokens = openai.Int(int64(budget))
		if req.Temperature != nil {
			params.Temperature = openai.Float(*req.Temperature)
		}
	}

	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if req.SessionID != "" {
		params.User = openai.String(req.SessionID)
	}

	c.logger.Debug("chat request",
		zap.String("agent", req.Agent),
		zap.String("model", model),
		zap.String("category", string(category)),
		zap.Int("budget", budget),
		zap.Int("input_tokens", input))
	return params, nil
}

func (c *OpenAIClient) complete(ctx context.Context, params openai.ChatCompletionNewParams) (*ChatResponse, error) {
	completion, err := c.completions.New(ctx, params)
	if err != nil {
		return nil, c.wrapError(err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", c.cfg.Provider, ErrEmptyResponse)
	}

	choice := completion.Choices[0]
	if choice.FinishReason == "length" {
		c.logger.Warn("completion truncated by token limit", zap.String("model", completion.Model))
	}
	return &ChatResponse{
		Content:          choice.Message.Content,
		Model:            completion.Model,
		FinishReason:     choice.FinishReason,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
	}, nil
}

// wrapError converts SDK errors into ProviderError so retry and the breaker
// can classify them by status.
func (c *OpenAIClient) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   c.cfg.Provider,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return fmt.Errorf("%s request failed: %w", c.cfg.Provider, err)
}
