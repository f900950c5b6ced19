package extraction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/storyforge/internal/llm"
	"github.com/scrypster/storyforge/pkg/types"
)

// Pipeline runs every extractor over the same text concurrently. One
// extractor failing never prevents the others from returning data.
type Pipeline struct {
	extractors  []Extractor
	concurrency int
	progress    ProgressFunc
	logger      *zap.Logger
}

// ProgressFunc observes a run. It is called with done == 0 before any
// extractor starts, then once per finished extractor with its kind.
type ProgressFunc func(sessionID string, kind types.Kind, done, total int)

// NewPipeline wires the five standard extractors to client.
func NewPipeline(client llm.ChatCompleter, cfg Config, logger *zap.Logger) *Pipeline {
	p := NewPipelineWith(logger,
		NewCharacterExtractor(client, cfg, logger),
		NewItemExtractor(client, cfg, logger),
		NewFactionExtractor(client, cfg, logger),
		NewLoreExtractor(client, cfg, logger),
		NewWorldExtractor(client, cfg, logger),
	)
	if cfg.Concurrency > 0 {
		p.concurrency = cfg.Concurrency
	}
	return p
}

// NewPipelineWith builds a pipeline from arbitrary extractors.
func NewPipelineWith(logger *zap.Logger, extractors ...Extractor) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		extractors:  extractors,
		concurrency: len(extractors),
		logger:      logger.Named("extraction"),
	}
}

// OnProgress sets the run observer. It must be set before the pipeline is
// shared.
func (p *Pipeline) OnProgress(fn ProgressFunc) {
	p.progress = fn
}

// PipelineResult holds one Result per extractor kind. Success is true only
// when every extractor succeeded.
type PipelineResult struct {
	Results  map[types.Kind]*Result `json:"results"`
	Success  bool                   `json:"success"`
	Duration time.Duration          `json:"duration"`
}

// Result returns the result for kind, or nil.
func (pr *PipelineResult) Result(kind types.Kind) *Result {
	return pr.Results[kind]
}

// Entities flattens every result, in extractor precedence order.
func (pr *PipelineResult) Entities() []types.Extracted {
	var out []types.Extracted
	for _, k := range []types.Kind{types.KindCharacter, types.KindFaction, types.KindItem, types.KindWorld, types.KindLore} {
		if r := pr.Results[k]; r != nil {
			out = append(out, r.Entities()...)
		}
	}
	return out
}

// Run extracts from req with every extractor, then removes entities that
// were claimed by more than one category.
func (p *Pipeline) Run(ctx context.Context, req Request) *PipelineResult {
	start := time.Now()
	results := make([]*Result, len(p.extractors))
	total := len(p.extractors)
	if p.progress != nil {
		p.progress(req.SessionID, "", 0, total)
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.concurrency))
	for i, ex := range p.extractors {
		g.Go(func() error {
			results[i] = p.runOne(gctx, ex, req)
			if p.progress != nil {
				// Serialized so observers see done increase one at a time.
				mu.Lock()
				done++
				p.progress(req.SessionID, results[i].Kind, done, total)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // runOne never returns an error

	pr := &PipelineResult{Results: make(map[types.Kind]*Result, len(results)), Success: true}
	for _, r := range results {
		pr.Results[r.Kind] = r
		if !r.Success {
			pr.Success = false
		}
	}
	p.dedupe(pr)
	pr.Duration = time.Since(start)

	p.logger.Info("extraction pipeline complete",
		zap.String("session_id", req.SessionID),
		zap.Bool("success", pr.Success),
		zap.Int("entities", len(pr.Entities())),
		zap.Duration("duration", pr.Duration))
	return pr
}

// runOne converts a panicking extractor into a failed result.
func (p *Pipeline) runOne(ctx context.Context, ex Extractor, req Request) (res *Result) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("extractor panicked", zap.String("extractor", string(ex.Kind())), zap.Any("panic", v))
			res = &Result{Kind: ex.Kind(), Error: fmt.Sprintf("panic: %v", v)}
		}
	}()
	res = ex.Extract(ctx, req)
	if res == nil {
		res = &Result{Kind: ex.Kind(), Error: "extractor returned no result"}
	}
	return res
}

// dedupe enforces that each name belongs to one category, with precedence
// character > faction > item > location > lore.
func (p *Pipeline) dedupe(pr *PipelineResult) {
	claimed := make(map[string]types.Kind)
	claim := func(name string, kind types.Kind) bool {
		k := nameKey(name)
		if owner, ok := claimed[k]; ok && owner != kind {
			return false
		}
		claimed[k] = kind
		return true
	}
	reject := func(r *Result, name string, owner types.Kind) {
		r.Filtered = append(r.Filtered, Filtered{Title: name, Reason: owner})
		p.logger.Debug("dropped cross-category duplicate",
			zap.String("name", name),
			zap.String("extractor", string(r.Kind)),
			zap.String("kept_as", string(owner)))
	}
	ownerOf := func(name string) types.Kind { return claimed[nameKey(name)] }

	if r := pr.Results[types.KindCharacter]; r != nil {
		for _, c := range r.Characters {
			claim(c.Name, types.KindCharacter)
		}
	}
	if r := pr.Results[types.KindFaction]; r != nil {
		r.Factions = keep(r.Factions, func(f types.Faction) bool {
			if claim(f.Name, types.KindFaction) {
				return true
			}
			reject(r, f.Name, ownerOf(f.Name))
			return false
		})
	}
	if r := pr.Results[types.KindItem]; r != nil {
		r.Items = keep(r.Items, func(i types.Item) bool {
			if claim(i.Name, types.KindItem) {
				return true
			}
			reject(r, i.Name, ownerOf(i.Name))
			return false
		})
	}
	if r := pr.Results[types.KindWorld]; r != nil && r.World != nil {
		r.World.Locations = keep(r.World.Locations, func(l types.Location) bool {
			if claim(l.Name, types.KindLocation) {
				return true
			}
			reject(r, l.Name, ownerOf(l.Name))
			return false
		})
	}
	if r := pr.Results[types.KindLore]; r != nil {
		r.Lore = keep(r.Lore, func(l types.LoreEntry) bool {
			if claim(l.Title, types.KindLore) {
				return true
			}
			reject(r, l.Title, ownerOf(l.Title))
			return false
		})
	}
}

func keep[T any](in []T, ok func(T) bool) []T {
	out := in[:0]
	for _, v := range in {
		if ok(v) {
			out = append(out, v)
		}
	}
	return out
}
