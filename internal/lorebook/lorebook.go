// Package lorebook retrieves the lore entries relevant to a passage of
// story text so they can be injected into generation context.
package lorebook

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/storage"
)

// DefaultMaxTriggered is the default number of entries FindTriggered returns.
const DefaultMaxTriggered = 5

const (
	exactWeight   = 2
	partialWeight = 1
)

// Match is a triggered entry and its relevance score.
type Match struct {
	Entry *storage.LoreEntry
	Score float64
}

// Lorebook is one session's keyword-indexed lore. The index is rebuilt in
// full after every mutation; entry counts are capped at
// storage.MaxLoreEntries.
type Lorebook struct {
	store  storage.LoreStore
	logger *zap.Logger

	mu        sync.RWMutex
	sessionID string
	entries   map[string]*storage.LoreEntry
	index     index
}

// New creates an empty lorebook backed by store.
func New(store storage.LoreStore, logger *zap.Logger) *Lorebook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lorebook{
		store:   store,
		logger:  logger.Named("lorebook"),
		entries: make(map[string]*storage.LoreEntry),
		index:   make(index),
	}
}

// Load replaces the lorebook contents with the session's highest-importance
// entries.
func (lb *Lorebook) Load(ctx context.Context, sessionID string) error {
	rows, err := lb.store.ListLoreEntries(ctx, sessionID, storage.MaxLoreEntries)
	if err != nil {
		return fmt.Errorf("lorebook: failed to load session %s: %w", sessionID, err)
	}

	entries := make(map[string]*storage.LoreEntry, len(rows))
	for _, e := range rows {
		entries[e.ID] = e
	}

	lb.mu.Lock()
	lb.sessionID = sessionID
	lb.entries = entries
	lb.index = buildIndex(entries)
	keywords := len(lb.index)
	lb.mu.Unlock()

	lb.logger.Info("lorebook loaded",
		zap.String("session_id", sessionID),
		zap.Int("entries", len(entries)),
		zap.Int("keywords", keywords))
	return nil
}

// Len returns the number of loaded entries.
func (lb *Lorebook) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return len(lb.entries)
}

// Add stores a new entry for the loaded session and rebuilds the index.
func (lb *Lorebook) Add(ctx context.Context, e *storage.LoreEntry) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.sessionID == "" {
		return fmt.Errorf("lorebook: %w: no session loaded", storage.ErrInvalidInput)
	}
	e.SessionID = lb.sessionID
	if err := lb.store.SaveLoreEntry(ctx, e); err != nil {
		return fmt.Errorf("lorebook: failed to save entry: %w", err)
	}
	lb.entries[e.ID] = e
	lb.index = buildIndex(lb.entries)
	return nil
}

// Update overwrites an existing entry. It returns storage.ErrNotFound when
// the id is not loaded.
func (lb *Lorebook) Update(ctx context.Context, e *storage.LoreEntry) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	prev, ok := lb.entries[e.ID]
	if !ok {
		return fmt.Errorf("lorebook: entry %s: %w", e.ID, storage.ErrNotFound)
	}
	e.SessionID = lb.sessionID
	e.CreatedAt = prev.CreatedAt
	if err := lb.store.SaveLoreEntry(ctx, e); err != nil {
		return fmt.Errorf("lorebook: failed to update entry: %w", err)
	}
	lb.entries[e.ID] = e
	lb.index = buildIndex(lb.entries)
	return nil
}

// Remove deletes an entry and rebuilds the index.
func (lb *Lorebook) Remove(ctx context.Context, id string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if err := lb.store.DeleteLoreEntry(ctx, lb.sessionID, id); err != nil {
		return fmt.Errorf("lorebook: failed to remove entry: %w", err)
	}
	delete(lb.entries, id)
	lb.index = buildIndex(lb.entries)
	return nil
}

// FindTriggered scores every entry against text and returns the top
// maxEntries. Each exact keyword hit is worth 2, each substring hit of a
// keyword longer than four characters is worth 1, and importance/10 is
// added to entries with at least one hit.
func (lb *Lorebook) FindTriggered(text string, maxEntries int) []Match {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxTriggered
	}
	tokens, joined := tokenize(text)

	lb.mu.RLock()
	defer lb.mu.RUnlock()

	scores := make(map[string]float64)
	for kw, ids := range lb.index {
		var w float64
		switch {
		case tokens[kw] || (strings.Contains(kw, " ") && strings.Contains(joined, " "+kw+" ")):
			w = exactWeight
		case len([]rune(kw)) >= minPartialKeyword && strings.Contains(joined, kw):
			w = partialWeight
		default:
			continue
		}
		for _, id := range ids {
			scores[id] += w
		}
	}

	matches := make([]Match, 0, len(scores))
	for id, s := range scores {
		e := lb.entries[id]
		matches = append(matches, Match{Entry: e, Score: s + float64(e.Importance)/10})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entry.Title < matches[j].Entry.Title
	})
	if len(matches) > maxEntries {
		matches = matches[:maxEntries]
	}
	return matches
}

// GenerateInjection renders entries as a delimited context block labeled
// by entry type. It returns "" for no entries.
func GenerateInjection(matches []Match) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[LOREBOOK CONTEXT]\n")
	for _, m := range matches {
		kind := strings.ToUpper(strings.TrimSpace(m.Entry.EntryType))
		if kind == "" {
			kind = "LORE"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", kind, m.Entry.Title, strings.TrimSpace(m.Entry.Content))
	}
	b.WriteString("[END LOREBOOK CONTEXT]\n")
	return b.String()
}
