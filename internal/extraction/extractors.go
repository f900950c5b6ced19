package extraction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/llm"
	"github.com/scrypster/storyforge/pkg/types"
)

// Agent names drive token budget classification.
const (
	AgentCharacter = "CharacterExtractor"
	AgentItem      = "ItemExtractor"
	AgentFaction   = "FactionExtractor"
	AgentLore      = "LoreExtractor"
	AgentWorld     = "WorldExtractor"
)

// CharacterExtractor finds people, creatures and companions.
type CharacterExtractor struct{ base }

// NewCharacterExtractor returns a character extractor.
func NewCharacterExtractor(client llm.ChatCompleter, cfg Config, logger *zap.Logger) *CharacterExtractor {
	return &CharacterExtractor{newBase(client, cfg, logger, types.KindCharacter)}
}

func (e *CharacterExtractor) Kind() types.Kind { return types.KindCharacter }

// Extract runs the character pass. Characters seen in several chunks are
// merged into one record.
func (e *CharacterExtractor) Extract(ctx context.Context, req Request) *Result {
	start := time.Now()
	found, chunks, failures := run(ctx, e.base, job[rawCharacter, types.Character]{
		agent:     AgentCharacter,
		key:       "characters",
		noun:      "characters",
		system:    characterPrompt,
		maxTokens: 8000,
		normalize: normalizeCharacter,
	}, req)
	r := &Result{
		Kind:       types.KindCharacter,
		Characters: mergeByKey(found, func(c types.Character) string { return nameKey(c.Name) }, MergeCharacters),
	}
	return finish(r, chunks, failures, start, e.logger)
}

// ItemExtractor finds named objects.
type ItemExtractor struct{ base }

// NewItemExtractor returns an item extractor.
func NewItemExtractor(client llm.ChatCompleter, cfg Config, logger *zap.Logger) *ItemExtractor {
	return &ItemExtractor{newBase(client, cfg, logger, types.KindItem)}
}

func (e *ItemExtractor) Kind() types.Kind { return types.KindItem }

func (e *ItemExtractor) Extract(ctx context.Context, req Request) *Result {
	start := time.Now()
	found, chunks, failures := run(ctx, e.base, job[rawItem, types.Item]{
		agent:     AgentItem,
		key:       "items",
		noun:      "items",
		system:    itemPrompt,
		maxTokens: 4000,
		normalize: normalizeItem,
	}, req)
	r := &Result{
		Kind:  types.KindItem,
		Items: mergeByKey(found, func(i types.Item) string { return nameKey(i.Name) }, mergeItems),
	}
	return finish(r, chunks, failures, start, e.logger)
}

// FactionExtractor finds organized groups.
type FactionExtractor struct{ base }

// NewFactionExtractor returns a faction extractor.
func NewFactionExtractor(client llm.ChatCompleter, cfg Config, logger *zap.Logger) *FactionExtractor {
	return &FactionExtractor{newBase(client, cfg, logger, types.KindFaction)}
}

func (e *FactionExtractor) Kind() types.Kind { return types.KindFaction }

func (e *FactionExtractor) Extract(ctx context.Context, req Request) *Result {
	start := time.Now()
	found, chunks, failures := run(ctx, e.base, job[rawFaction, types.Faction]{
		agent:     AgentFaction,
		key:       "factions",
		noun:      "factions",
		system:    factionPrompt,
		maxTokens: 4000,
		normalize: normalizeFaction,
	}, req)
	r := &Result{
		Kind:     types.KindFaction,
		Factions: mergeByKey(found, func(f types.Faction) string { return nameKey(f.Name) }, mergeFactions),
	}
	return finish(r, chunks, failures, start, e.logger)
}

// LoreExtractor finds background knowledge and rejects entries that are
// really characters, items or factions.
type LoreExtractor struct{ base }

// NewLoreExtractor returns a lore extractor.
func NewLoreExtractor(client llm.ChatCompleter, cfg Config, logger *zap.Logger) *LoreExtractor {
	return &LoreExtractor{newBase(client, cfg, logger, types.KindLore)}
}

func (e *LoreExtractor) Kind() types.Kind { return types.KindLore }

func (e *LoreExtractor) Extract(ctx context.Context, req Request) *Result {
	start := time.Now()
	found, chunks, failures := run(ctx, e.base, job[rawLore, types.LoreEntry]{
		agent:     AgentLore,
		key:       "lore",
		noun:      "lore entries",
		system:    lorePrompt,
		maxTokens: 6000,
		normalize: normalizeLore,
	}, req)

	r := &Result{Kind: types.KindLore}
	kept := make([]types.LoreEntry, 0, len(found))
	for _, entry := range found {
		if kind := classifyLore(entry); kind != types.KindLore {
			r.Filtered = append(r.Filtered, Filtered{Title: entry.Title, Reason: kind})
			e.logger.Info("filtered misclassified lore", zap.String("title", entry.Title), zap.String("likely_kind", string(kind)))
			continue
		}
		kept = append(kept, entry)
	}
	r.Lore = mergeByKey(kept, func(l types.LoreEntry) string { return nameKey(l.Title) }, mergeLore)
	return finish(r, chunks, failures, start, e.logger)
}

// WorldExtractor describes the setting and its locations.
type WorldExtractor struct{ base }

// NewWorldExtractor returns a world extractor.
func NewWorldExtractor(client llm.ChatCompleter, cfg Config, logger *zap.Logger) *WorldExtractor {
	return &WorldExtractor{newBase(client, cfg, logger, types.KindWorld)}
}

func (e *WorldExtractor) Kind() types.Kind { return types.KindWorld }

// Extract runs the world pass. Every chunk's answer is folded into a single
// WorldInfo; World is nil when no chunk described the setting.
func (e *WorldExtractor) Extract(ctx context.Context, req Request) *Result {
	start := time.Now()
	found, chunks, failures := run(ctx, e.base, job[rawWorld, types.WorldInfo]{
		agent:     AgentWorld,
		key:       "world",
		noun:      "world information",
		system:    worldPrompt,
		maxTokens: 3000,
		normalize: normalizeWorld,
	}, req)

	r := &Result{Kind: types.KindWorld}
	if len(found) > 0 {
		w := found[0]
		for _, next := range found[1:] {
			w = mergeWorld(w, next)
		}
		r.World = &w
	}
	return finish(r, chunks, failures, start, e.logger)
}

// Compile-time assertions.
var (
	_ Extractor = (*CharacterExtractor)(nil)
	_ Extractor = (*ItemExtractor)(nil)
	_ Extractor = (*FactionExtractor)(nil)
	_ Extractor = (*LoreExtractor)(nil)
	_ Extractor = (*WorldExtractor)(nil)
)
