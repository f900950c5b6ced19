// Package extraction pulls characters, items, factions, lore and world
// information out of source text with independent LLM passes.
//
// Each extractor chunks long input, asks the model for a single JSON array,
// recovers what it can from truncated responses, fills every field with a
// documented default, and retries transient provider failures. Extractors
// never return a Go error: failures are reported on the Result.
package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/config"
	"github.com/scrypster/storyforge/internal/llm"
	"github.com/scrypster/storyforge/internal/retry"
	"github.com/scrypster/storyforge/pkg/types"
)

// Config tunes every extractor.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	MaxRetries   int
	BackoffBase  time.Duration
	Model        string  // empty uses the client's model
	Temperature  float64 // default 0.3
	Concurrency  int     // pipeline fan-out limit (default: one per extractor)
}

// ConfigFrom maps the environment config onto extractor settings.
func ConfigFrom(c config.ExtractionConfig) Config {
	return Config{
		ChunkSize:    c.ChunkSize,
		ChunkOverlap: c.ChunkOverlap,
		MaxRetries:   c.MaxRetries,
		BackoffBase:  c.BackoffBase,
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = llm.DefaultChunkSize
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = llm.DefaultChunkOverlap
		if c.ChunkOverlap >= c.ChunkSize {
			c.ChunkOverlap = 0
		}
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = retry.DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	return c
}

// Request is one document to extract from.
type Request struct {
	SessionID string
	Text      string
}

// Result is the outcome of one extractor. Success is false when any chunk
// failed after retries; entities from the chunks that succeeded are kept.
type Result struct {
	Kind       types.Kind        `json:"kind"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Characters []types.Character `json:"characters,omitempty"`
	Items      []types.Item      `json:"items,omitempty"`
	Factions   []types.Faction   `json:"factions,omitempty"`
	Lore       []types.LoreEntry `json:"lore,omitempty"`
	World      *types.WorldInfo  `json:"world,omitempty"`
	Filtered   []Filtered        `json:"filtered,omitempty"`
	Chunks     int               `json:"chunks"`
	Duration   time.Duration     `json:"duration"`
}

// Entities flattens the result into the tagged union.
func (r *Result) Entities() []types.Extracted {
	var out []types.Extracted
	for _, c := range r.Characters {
		out = append(out, c)
	}
	for _, i := range r.Items {
		out = append(out, i)
	}
	for _, f := range r.Factions {
		out = append(out, f)
	}
	for _, l := range r.Lore {
		out = append(out, l)
	}
	if r.World != nil {
		out = append(out, *r.World)
	}
	return out
}

// Extractor is one independent extraction pass.
type Extractor interface {
	Kind() types.Kind
	Extract(ctx context.Context, req Request) *Result
}

// job describes one extractor's JSON contract.
type job[R, T any] struct {
	agent     string // budget classification name
	key       string // top-level array key
	noun      string // used in the user prompt
	system    string
	maxTokens int
	normalize func(R, int) (T, bool)
}

// base holds what every extractor shares.
type base struct {
	client llm.ChatCompleter
	cfg    Config
	logger *zap.Logger
}

func newBase(client llm.ChatCompleter, cfg Config, logger *zap.Logger, kind types.Kind) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("extraction").With(zap.String("extractor", string(kind))),
	}
}

// chunkFailure is one chunk that exhausted its retries.
type chunkFailure struct {
	chunk int
	err   error
}

// run extracts from every chunk in order and returns the normalized
// entities plus the chunks that failed. A terminal error such as a
// content-policy rejection stops the remaining chunks.
func run[R, T any](ctx context.Context, b base, j job[R, T], req Request) ([]T, int, []chunkFailure) {
	chunks := llm.ChunkText(req.Text, b.cfg.ChunkSize, b.cfg.ChunkOverlap)
	var (
		out      []T
		failures []chunkFailure
	)
	temp := b.cfg.Temperature

	for _, chunk := range chunks {
		policy := retry.Policy{
			Name:        fmt.Sprintf("%s chunk %d/%d", j.agent, chunk.Index+1, len(chunks)),
			MaxAttempts: b.cfg.MaxRetries,
			BaseDelay:   b.cfg.BackoffBase,
			Logger:      b.logger,
		}
		raws, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) ([]R, error) {
			resp, err := b.client.Complete(ctx, llm.ChatRequest{
				Agent:       j.agent,
				Model:       b.cfg.Model,
				System:      j.system,
				User:        userPrompt(j.noun, chunk, len(chunks)),
				MaxTokens:   j.maxTokens,
				Temperature: &temp,
				JSONMode:    true,
				SessionID:   req.SessionID,
			})
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(resp.Content) == "" {
				return nil, llm.ErrEmptyResponse
			}
			items, stage := llm.RecoverArray[R](b.logger, resp.Content, j.key)
			b.logger.Debug("chunk decoded",
				zap.Int("chunk", chunk.Index),
				zap.String("stage", string(stage)),
				zap.Int("elements", len(items)))
			return items, nil
		})
		if err != nil {
			failures = append(failures, chunkFailure{chunk: chunk.Index, err: err})
			if !retry.IsRetryable(err) {
				break
			}
			continue
		}

		dropped := 0
		for _, raw := range raws {
			if v, ok := j.normalize(raw, chunk.Index); ok {
				out = append(out, v)
			} else {
				dropped++
			}
		}
		if dropped > 0 {
			b.logger.Info("dropped unusable elements", zap.Int("chunk", chunk.Index), zap.Int("dropped", dropped))
		}
	}
	return out, len(chunks), failures
}

// finish stamps success and error fields on r.
func finish(r *Result, chunks int, failures []chunkFailure, start time.Time, logger *zap.Logger) *Result {
	r.Chunks = chunks
	r.Duration = time.Since(start)
	r.Success = len(failures) == 0
	if len(failures) > 0 {
		msgs := make([]string, len(failures))
		for i, f := range failures {
			msgs[i] = fmt.Sprintf("chunk %d: %v", f.chunk, f.err)
		}
		r.Error = strings.Join(msgs, "; ")
		logger.Error("extraction incomplete", zap.Int("failed_chunks", len(failures)), zap.Int("chunks", chunks), zap.String("error", r.Error))
	}
	return r
}
