// Package usage keeps per-session cost ledgers across every billed
// provider and publishes a full snapshot after each tracked call.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/storage"
)

// Provider labels used as ledger keys.
const (
	ProviderOpenAI        = "openai"
	ProviderVenice        = "venice"
	ProviderElevenLabs    = "elevenlabs"
	ProviderTranscription = "transcription"
	ProviderImages        = "images"
	ProviderRouter        = "router"
)

// subscriberBuffer is the number of snapshots a slow subscriber may lag
// before newer snapshots are dropped for it.
const subscriberBuffer = 16

// resumeTimeout bounds the store read that restores a flushed session.
const resumeTimeout = 5 * time.Second

// ModelUsage is the counters for one billed unit (a model, voice model or
// image tier).
type ModelUsage struct {
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
	Characters   int64   `json:"characters,omitempty"`
	AudioSeconds float64 `json:"audio_seconds,omitempty"`
	Images       int64   `json:"images,omitempty"`
	Requests     int64   `json:"requests"`
	Cost         float64 `json:"cost"`
}

// ProviderUsage aggregates one provider's models.
type ProviderUsage struct {
	InputTokens  int64                 `json:"input_tokens"`
	OutputTokens int64                 `json:"output_tokens"`
	Characters   int64                 `json:"characters"`
	AudioSeconds float64               `json:"audio_seconds"`
	Images       int64                 `json:"images"`
	Requests     int64                 `json:"requests"`
	Cost         float64               `json:"cost"`
	Models       map[string]ModelUsage `json:"models"`
}

// Snapshot is the full ledger for a session. Subscribers receive whole
// snapshots, so each one can replace the last regardless of arrival order.
type Snapshot struct {
	SessionID string                   `json:"session_id"`
	Providers map[string]ProviderUsage `json:"providers"`
	TotalCost float64                  `json:"total_cost"`
	Requests  int64                    `json:"requests"`
	StartedAt time.Time                `json:"started_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// rate computes a model's cost from its counters.
type rate func(m ModelUsage) float64

type sessionLedger struct {
	providers map[string]map[string]*ModelUsage
	startedAt time.Time
	updatedAt time.Time
}

// Ledger tracks usage for every live session. It is safe for concurrent
// use.
type Ledger struct {
	prices PriceTable
	store  storage.UsageStore
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionLedger

	subMu   sync.RWMutex
	subs    map[string]map[int]chan Snapshot
	nextSub int
}

// NewLedger creates a ledger. store may be nil, in which case Persist is a
// no-op.
func NewLedger(prices PriceTable, store storage.UsageStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		prices:   prices,
		store:    store,
		logger:   logger.Named("usage"),
		now:      time.Now,
		sessions: make(map[string]*sessionLedger),
		subs:     make(map[string]map[int]chan Snapshot),
	}
}

// TrackCompletion records a chat completion. It satisfies
// llm.UsageRecorder.
func (l *Ledger) TrackCompletion(sessionID, provider, model string, promptTokens, completionTokens int) {
	if provider == "" {
		provider = ProviderOpenAI
	}
	price := l.prices.TextPrice(model)
	l.track(sessionID, provider, model, tokenRate(price), func(m *ModelUsage) {
		m.InputTokens += int64(promptTokens)
		m.OutputTokens += int64(completionTokens)
	})
}

// TrackOpenAI records an OpenAI chat completion.
func (l *Ledger) TrackOpenAI(sessionID, model string, promptTokens, completionTokens int) {
	l.TrackCompletion(sessionID, ProviderOpenAI, model, promptTokens, completionTokens)
}

// TrackRouter records a completion routed through a multi-model gateway.
// Usage is keyed by upstream provider and model.
func (l *Ledger) TrackRouter(sessionID, upstream, model string, promptTokens, completionTokens int) {
	key := upstream + "/" + model
	price := l.prices.TextPrice(model)
	l.track(sessionID, ProviderRouter, key, tokenRate(price), func(m *ModelUsage) {
		m.InputTokens += int64(promptTokens)
		m.OutputTokens += int64(completionTokens)
	})
}

// TrackTTS records synthesized speech billed by character.
func (l *Ledger) TrackTTS(sessionID, model string, characters int) {
	per1k := l.prices.TTSPrice(model)
	l.track(sessionID, ProviderElevenLabs, model, func(m ModelUsage) float64 {
		return float64(m.Characters) / 1000 * per1k
	}, func(m *ModelUsage) {
		m.Characters += int64(characters)
	})
}

// TrackTranscription records speech-to-text billed by audio duration.
func (l *Ledger) TrackTranscription(sessionID, model string, duration time.Duration) {
	perMinute := l.prices.TranscriptionPrice(model)
	l.track(sessionID, ProviderTranscription, model, func(m ModelUsage) float64 {
		return m.AudioSeconds / 60 * perMinute
	}, func(m *ModelUsage) {
		m.AudioSeconds += duration.Seconds()
	})
}

// TrackImage records n generated images of one size and quality tier.
func (l *Ledger) TrackImage(sessionID, model, size, quality string, n int) {
	each := l.prices.ImagePrice(model, size, quality)
	l.track(sessionID, ProviderImages, imageKey(model, size, quality), func(m ModelUsage) float64 {
		return float64(m.Images) * each
	}, func(m *ModelUsage) {
		m.Images += int64(n)
	})
}

func tokenRate(p TokenPrice) rate {
	return func(m ModelUsage) float64 {
		return (float64(m.InputTokens)*p.Input + float64(m.OutputTokens)*p.Output) / 1_000_000
	}
}

// track applies one call's counters, recomputes the unit's cost from its
// totals and publishes the updated snapshot. Publishing never blocks.
func (l *Ledger) track(sessionID, provider, unit string, cost rate, apply func(*ModelUsage)) {
	if sessionID == "" {
		return
	}

	l.mu.Lock()
	_, live := l.sessions[sessionID]
	l.mu.Unlock()
	var resumed *sessionLedger
	if !live {
		resumed = l.resume(sessionID)
	}
	now := l.now()

	l.mu.Lock()
	s, ok := l.sessions[sessionID]
	if !ok {
		s = resumed
		if s == nil {
			s = &sessionLedger{providers: make(map[string]map[string]*ModelUsage), startedAt: now}
		}
		l.sessions[sessionID] = s
	}
	models, ok := s.providers[provider]
	if !ok {
		models = make(map[string]*ModelUsage)
		s.providers[provider] = models
	}
	m, ok := models[unit]
	if !ok {
		m = &ModelUsage{}
		models[unit] = m
	}
	apply(m)
	m.Requests++
	m.Cost = cost(*m)
	s.updatedAt = now

	snap := s.snapshot(sessionID)
	// Publishing under l.mu keeps emissions in tracking order.
	l.publish(snap)
	l.mu.Unlock()
}

// resume rebuilds a flushed session from its persisted snapshot so new
// calls add to the stored totals. It returns nil for sessions never
// persisted.
func (l *Ledger) resume(sessionID string) *sessionLedger {
	if l.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
	defer cancel()
	snap, err := l.loadStored(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		l.logger.Error("failed to resume usage ledger", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}

	s := &sessionLedger{
		providers: make(map[string]map[string]*ModelUsage, len(snap.Providers)),
		startedAt: snap.StartedAt,
		updatedAt: snap.UpdatedAt,
	}
	for name, pu := range snap.Providers {
		models := make(map[string]*ModelUsage, len(pu.Models))
		for unit, m := range pu.Models {
			m := m
			models[unit] = &m
		}
		s.providers[name] = models
	}
	l.logger.Debug("resumed usage ledger", zap.String("session_id", sessionID), zap.Float64("total_cost", snap.TotalCost))
	return s
}

func (s *sessionLedger) snapshot(sessionID string) Snapshot {
	snap := Snapshot{
		SessionID: sessionID,
		Providers: make(map[string]ProviderUsage, len(s.providers)),
		StartedAt: s.startedAt,
		UpdatedAt: s.updatedAt,
	}
	for name, models := range s.providers {
		pu := ProviderUsage{Models: make(map[string]ModelUsage, len(models))}
		for unit, mp := range models {
			m := *mp
			pu.Models[unit] = m
			pu.InputTokens += m.InputTokens
			pu.OutputTokens += m.OutputTokens
			pu.Characters += m.Characters
			pu.AudioSeconds += m.AudioSeconds
			pu.Images += m.Images
			pu.Requests += m.Requests
			pu.Cost += m.Cost
		}
		snap.Providers[name] = pu
		snap.TotalCost += pu.Cost
		snap.Requests += pu.Requests
	}
	return snap
}

// Snapshot returns the session's current ledger.
func (l *Ledger) Snapshot(sessionID string) (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(sessionID), true
}

// Subscribe returns a channel of snapshots for sessionID and a func that
// unsubscribes and closes it.
func (l *Ledger) Subscribe(sessionID string) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	if l.subs[sessionID] == nil {
		l.subs[sessionID] = make(map[int]chan Snapshot)
	}
	l.subs[sessionID][id] = ch
	l.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs[sessionID], id)
			if len(l.subs[sessionID]) == 0 {
				delete(l.subs, sessionID)
			}
			l.subMu.Unlock()
			close(ch)
		})
	}
}

func (l *Ledger) publish(snap Snapshot) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()
	for _, ch := range l.subs[snap.SessionID] {
		select {
		case ch <- snap:
		default:
			l.logger.Debug("usage subscriber lagging, snapshot dropped", zap.String("session_id", snap.SessionID))
		}
	}
}

// Persist upserts the session's snapshot. Repeated calls overwrite the
// stored row with the latest totals.
func (l *Ledger) Persist(ctx context.Context, sessionID string) error {
	if l.store == nil {
		return nil
	}
	snap, ok := l.Snapshot(sessionID)
	if !ok {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("usage: failed to encode snapshot: %w", err)
	}
	err = l.store.UpsertUsageSnapshot(ctx, &storage.UsageSnapshot{
		SessionID: sessionID,
		TotalCost: snap.TotalCost,
		Requests:  int(snap.Requests),
		Data:      data,
		UpdatedAt: snap.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("usage: failed to persist session %s: %w", sessionID, err)
	}
	return nil
}

// Sessions returns the ids of every session held in memory, sorted.
func (l *Ledger) Sessions() []string {
	l.mu.Lock()
	ids := make([]string, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Evict drops the session from memory.
func (l *Ledger) Evict(sessionID string) {
	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()
}

// Flush persists then evicts the session. The in-memory ledger is kept if
// persisting fails so a later flush can retry.
func (l *Ledger) Flush(ctx context.Context, sessionID string) error {
	if err := l.Persist(ctx, sessionID); err != nil {
		l.logger.Error("failed to flush usage", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	l.Evict(sessionID)
	return nil
}

// FlushIdle flushes every in-memory session untouched for longer than idle
// that keep does not claim, and returns the flushed ids. Sessions that fail
// to persist stay in memory.
func (l *Ledger) FlushIdle(ctx context.Context, idle time.Duration, keep func(sessionID string) bool) []string {
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	var stale []string
	for id, s := range l.sessions {
		if s.updatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	l.mu.Unlock()
	sort.Strings(stale)

	var flushed []string
	for _, id := range stale {
		if keep != nil && keep(id) {
			continue
		}
		if err := l.Flush(ctx, id); err != nil {
			continue
		}
		flushed = append(flushed, id)
	}
	if len(flushed) > 0 {
		l.logger.Info("flushed idle usage ledgers", zap.Int("count", len(flushed)))
	}
	return flushed
}

// Load returns a persisted snapshot for a session no longer in memory.
func (l *Ledger) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	if snap, ok := l.Snapshot(sessionID); ok {
		return snap, nil
	}
	return l.loadStored(ctx, sessionID)
}

func (l *Ledger) loadStored(ctx context.Context, sessionID string) (Snapshot, error) {
	if l.store == nil {
		return Snapshot{}, storage.ErrNotFound
	}
	row, err := l.store.GetUsageSnapshot(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(row.Data, &snap); err != nil {
		return Snapshot{}, errors.Join(storage.ErrInvalidInput, fmt.Errorf("usage: corrupt snapshot for %s: %w", sessionID, err))
	}
	return snap, nil
}
