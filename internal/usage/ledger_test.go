package usage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyforge/internal/llm"
	"github.com/scrypster/storyforge/internal/storage"
	"github.com/scrypster/storyforge/internal/storage/sqlite"
)

var _ llm.UsageRecorder = (*Ledger)(nil)

func TestLedger_Additivity(t *testing.T) {
	split := NewLedger(DefaultPrices(), nil, nil)
	split.TrackOpenAI("s", "gpt-4o", 100, 50)
	split.TrackOpenAI("s", "gpt-4o", 200, 100)

	combined := NewLedger(DefaultPrices(), nil, nil)
	combined.TrackOpenAI("s", "gpt-4o", 300, 150)

	a, ok := split.Snapshot("s")
	require.True(t, ok)
	b, ok := combined.Snapshot("s")
	require.True(t, ok)

	assert.Equal(t, b.TotalCost, a.TotalCost)
	assert.Equal(t, int64(300), a.Providers[ProviderOpenAI].InputTokens)
	assert.Equal(t, int64(150), a.Providers[ProviderOpenAI].OutputTokens)
	assert.Equal(t, int64(2), a.Requests)
	// 300 * 2.50/1M + 150 * 10/1M
	assert.InDelta(t, 0.00225, a.TotalCost, 1e-12)
}

func TestLedger_TotalIsSumOfProviders(t *testing.T) {
	l := NewLedger(DefaultPrices(), nil, nil)
	l.TrackOpenAI("s", "gpt-4o-mini", 1_000_000, 0)                       // 0.15
	l.TrackCompletion("s", ProviderVenice, "llama-3.3-70b", 0, 1_000_000) // 2.80
	l.TrackTTS("s", "eleven_multilingual_v2", 2000)                       // 0.60
	l.TrackTranscription("s", "whisper-1", 2*time.Minute)                 // 0.012
	l.TrackImage("s", "dall-e-3", "1024x1024", "hd", 2)                   // 0.16
	l.TrackRouter("s", "anthropic", "claude-3-5-sonnet", 1_000_000, 0)    // 3.00

	snap, ok := l.Snapshot("s")
	require.True(t, ok)
	assert.Len(t, snap.Providers, 6)

	var sum float64
	for _, p := range snap.Providers {
		sum += p.Cost
	}
	assert.InDelta(t, sum, snap.TotalCost, 1e-12)
	assert.InDelta(t, 0.15+2.80+0.60+0.012+0.16+3.00, snap.TotalCost, 1e-9)
	assert.Equal(t, int64(2000), snap.Providers[ProviderElevenLabs].Characters)
	assert.Equal(t, int64(2), snap.Providers[ProviderImages].Images)
	assert.Contains(t, snap.Providers[ProviderImages].Models, "dall-e-3/1024x1024/hd")
	assert.Contains(t, snap.Providers[ProviderRouter].Models, "anthropic/claude-3-5-sonnet")
}

func TestLedger_IgnoresEmptySession(t *testing.T) {
	l := NewLedger(DefaultPrices(), nil, nil)
	l.TrackOpenAI("", "gpt-4o", 10, 10)
	_, ok := l.Snapshot("")
	assert.False(t, ok)
}

func TestLedger_SubscribeReceivesFullSnapshots(t *testing.T) {
	l := NewLedger(DefaultPrices(), nil, nil)
	ch, unsubscribe := l.Subscribe("s")
	other, unsubscribeOther := l.Subscribe("other")
	defer unsubscribeOther()

	l.TrackOpenAI("s", "gpt-4o", 10, 0)
	l.TrackTTS("s", "tts-1", 100)

	first := <-ch
	second := <-ch
	assert.Equal(t, int64(1), first.Requests)
	assert.Equal(t, int64(2), second.Requests)
	assert.Len(t, second.Providers, 2)

	select {
	case snap := <-other:
		t.Fatalf("unexpected snapshot for other session: %+v", snap)
	default:
	}

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	assert.NotPanics(t, func() { l.TrackOpenAI("s", "gpt-4o", 1, 1) })
}

func TestLedger_SlowSubscriberNeverBlocks(t *testing.T) {
	l := NewLedger(DefaultPrices(), nil, nil)
	_, unsubscribe := l.Subscribe("s")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			l.TrackOpenAI("s", "gpt-4o", 1, 1)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tracking blocked on a full subscriber")
	}
}

func TestLedger_ConcurrentTracking(t *testing.T) {
	l := NewLedger(DefaultPrices(), nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.TrackOpenAI("s", "gpt-4o", 10, 5)
			}
		}()
	}
	wg.Wait()

	snap, _ := l.Snapshot("s")
	assert.Equal(t, int64(1000), snap.Requests)
	assert.Equal(t, int64(10_000), snap.Providers[ProviderOpenAI].InputTokens)
}

func TestLedger_PersistIsIdempotent(t *testing.T) {
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "usage.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	l := NewLedger(DefaultPrices(), store, nil)
	l.TrackOpenAI("s", "gpt-4o", 100, 50)

	require.NoError(t, l.Persist(ctx, "s"))
	require.NoError(t, l.Persist(ctx, "s"))
	l.TrackOpenAI("s", "gpt-4o", 100, 50)
	require.NoError(t, l.Flush(ctx, "s"))

	_, inMemory := l.Snapshot("s")
	assert.False(t, inMemory)

	row, err := store.GetUsageSnapshot(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2, row.Requests)

	loaded, err := l.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(200), loaded.Providers[ProviderOpenAI].InputTokens)
	assert.InDelta(t, row.TotalCost, loaded.TotalCost, 1e-12)

	// Unknown sessions persist nothing.
	require.NoError(t, l.Persist(ctx, "missing"))
	_, err = l.Load(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLedger_ResumesFlushedSession(t *testing.T) {
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "usage.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	l := NewLedger(DefaultPrices(), store, nil)
	l.TrackOpenAI("s", "gpt-4o", 100000, 50000)
	first, _ := l.Snapshot("s")
	require.InDelta(t, 0.75, first.TotalCost, 1e-9)
	require.NoError(t, l.Flush(ctx, "s"))

	l.TrackOpenAI("s", "gpt-4o", 10, 5)
	resumed, ok := l.Snapshot("s")
	require.True(t, ok)
	assert.True(t, first.StartedAt.Equal(resumed.StartedAt), "resumed ledger keeps its start time")
	require.NoError(t, l.Persist(ctx, "s"))
	l.Evict("s")

	loaded, err := l.Load(ctx, "s")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, loaded.TotalCost, 0.75)
	assert.InDelta(t, 0.750075, loaded.TotalCost, 1e-9)
	assert.EqualValues(t, 2, loaded.Requests)
	assert.EqualValues(t, 100010, loaded.Providers[ProviderOpenAI].Models["gpt-4o"].InputTokens)
}

func TestLedger_FlushIdle(t *testing.T) {
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "usage.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now()
	l := NewLedger(DefaultPrices(), store, nil)
	l.now = func() time.Time { return now }
	l.TrackImage("idle", "dall-e-3", "1024x1024", "standard", 1)
	l.TrackImage("kept", "dall-e-3", "1024x1024", "standard", 1)
	now = now.Add(time.Minute)
	l.TrackImage("fresh", "dall-e-3", "1024x1024", "standard", 1)

	flushed := l.FlushIdle(context.Background(), 30*time.Second, func(id string) bool { return id == "kept" })
	assert.Equal(t, []string{"idle"}, flushed)
	assert.Equal(t, []string{"fresh", "kept"}, l.Sessions())

	row, err := store.GetUsageSnapshot(context.Background(), "idle")
	require.NoError(t, err)
	assert.Equal(t, 1, row.Requests)
}

type failingStore struct{}

func (failingStore) UpsertUsageSnapshot(context.Context, *storage.UsageSnapshot) error {
	return errors.New("db down")
}

func (failingStore) GetUsageSnapshot(context.Context, string) (*storage.UsageSnapshot, error) {
	return nil, storage.ErrNotFound
}

func TestLedger_FlushKeepsLedgerOnFailure(t *testing.T) {
	l := NewLedger(DefaultPrices(), failingStore{}, nil)
	l.TrackOpenAI("s", "gpt-4o", 1, 1)
	assert.Error(t, l.Flush(context.Background(), "s"))
	_, ok := l.Snapshot("s")
	assert.True(t, ok)
}

func TestPriceTable(t *testing.T) {
	p := DefaultPrices()
	assert.Equal(t, TokenPrice{Input: 0.15, Output: 0.60}, p.TextPrice("gpt-4o-mini-2024-07-18"))
	assert.Equal(t, TokenPrice{Input: 2.50, Output: 10.00}, p.TextPrice("openai/gpt-4o"))
	assert.Equal(t, p.DefaultText, p.TextPrice("unknown-model"))
	assert.Equal(t, 0.120, p.ImagePrice("dall-e-3", "1792x1024", "hd"))
	assert.Equal(t, 0.025, p.ImagePrice("fal-ai/flux/dev", "landscape_4_3", ""))
	assert.Equal(t, p.DefaultImage, p.ImagePrice("mystery", "", ""))
	assert.Equal(t, p.DefaultTTS, p.TTSPrice("unknown"))
	assert.Equal(t, 0.003, p.TranscriptionPrice("gpt-4o-mini-transcribe"))
}

func TestLedger_Sessions(t *testing.T) {
	l := NewLedger(DefaultPrices(), nil, nil)
	assert.Empty(t, l.Sessions())

	l.TrackOpenAI("b", "gpt-4o", 1, 1)
	l.TrackTTS("a", "eleven_multilingual_v2", 10)
	assert.Equal(t, []string{"a", "b"}, l.Sessions())

	l.Evict("a")
	assert.Equal(t, []string{"b"}, l.Sessions())
}
