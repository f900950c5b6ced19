package lorebook

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyforge/internal/storage"
	"github.com/scrypster/storyforge/internal/storage/sqlite"
)

func newTestBook(t *testing.T, entries ...*storage.LoreEntry) (*Lorebook, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "lore.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for _, e := range entries {
		e.SessionID = "s1"
		require.NoError(t, store.SaveLoreEntry(ctx, e))
	}
	lb := New(store, nil)
	require.NoError(t, lb.Load(ctx, "s1"))
	return lb, store
}

func titles(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Entry.Title
	}
	return out
}

func TestKeywords(t *testing.T) {
	kws := keywords(&storage.LoreEntry{
		Title:   "The Siege of Ashford",
		Tags:    []string{"War", " dark lord "},
		Content: "When the Iron Legion marched, the city fell. It was winter.",
	})
	for _, want := range []string{"siege", "ashford", "war", "dark lord", "iron", "legion"} {
		assert.True(t, kws[want], want)
	}
	for _, unwanted := range []string{"the", "of", "when", "city", "winter", "it"} {
		assert.False(t, kws[unwanted], unwanted)
	}
}

func TestFindTriggered_RanksByScore(t *testing.T) {
	lb, _ := newTestBook(t,
		&storage.LoreEntry{Title: "Ashford Keep", Content: "A fortress on the river.", EntryType: "location", Importance: 40},
		&storage.LoreEntry{Title: "Dragonfire", Content: "Ancient flame of the Wyrms.", EntryType: "magic", Importance: 90},
		&storage.LoreEntry{Title: "Harvest Festival", Content: "Held each autumn.", EntryType: "custom", Importance: 10},
	)

	got := lb.FindTriggered("The knights rode to Ashford Keep while dragonfires burned.", 5)
	require.Len(t, got, 2)
	// Ashford Keep: two exact hits (4) + 4.0. Dragonfire: one partial hit (1) + 9.0.
	assert.Equal(t, []string{"Dragonfire", "Ashford Keep"}, titles(got))
	assert.InDelta(t, 10.0, got[0].Score, 1e-9)
	assert.InDelta(t, 8.0, got[1].Score, 1e-9)
}

func TestFindTriggered_ShortKeywordsNeedExactMatch(t *testing.T) {
	lb, _ := newTestBook(t,
		&storage.LoreEntry{Title: "Orb", Content: "glows", Importance: 50},
	)
	assert.Empty(t, lb.FindTriggered("The orbs were scattered.", 5))
	assert.Len(t, lb.FindTriggered("She lifted the orb.", 5), 1)
}

func TestFindTriggered_TagPhrase(t *testing.T) {
	lb, _ := newTestBook(t,
		&storage.LoreEntry{Title: "Morgath", Tags: []string{"dark lord"}, Importance: 0},
	)
	got := lb.FindTriggered("Beware the dark lord.", 5)
	require.Len(t, got, 1)
	assert.InDelta(t, 2.0, got[0].Score, 1e-9)
}

func TestFindTriggered_LimitsResults(t *testing.T) {
	var entries []*storage.LoreEntry
	for i := 0; i < 8; i++ {
		entries = append(entries, &storage.LoreEntry{Title: fmt.Sprintf("Relic %d", i), Tags: []string{"relic"}, Importance: i * 10})
	}
	lb, _ := newTestBook(t, entries...)

	got := lb.FindTriggered("an old relic", 0)
	require.Len(t, got, DefaultMaxTriggered)
	assert.Equal(t, "Relic 7", got[0].Entry.Title)
	assert.Len(t, lb.FindTriggered("an old relic", 3), 3)
}

func TestMutationsRebuildIndex(t *testing.T) {
	lb, store := newTestBook(t)
	ctx := context.Background()

	e := &storage.LoreEntry{Title: "Silver Gate", Content: "A portal.", EntryType: "location", Importance: 30}
	require.NoError(t, lb.Add(ctx, e))
	assert.Len(t, lb.FindTriggered("through the silver gate", 5), 1)

	e2 := &storage.LoreEntry{ID: e.ID, Title: "Golden Gate", Content: "A portal.", EntryType: "location"}
	require.NoError(t, lb.Update(ctx, e2))
	assert.Empty(t, lb.FindTriggered("silver", 5))
	assert.Len(t, lb.FindTriggered("golden", 5), 1)

	require.NoError(t, lb.Remove(ctx, e.ID))
	assert.Empty(t, lb.FindTriggered("golden gate", 5))
	assert.Equal(t, 0, lb.Len())

	rows, err := store.ListLoreEntries(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	err = lb.Update(ctx, &storage.LoreEntry{ID: "missing", Title: "x"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAdd_RequiresLoadedSession(t *testing.T) {
	lb := New(nil, nil)
	err := lb.Add(context.Background(), &storage.LoreEntry{Title: "x"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestGenerateInjection(t *testing.T) {
	assert.Equal(t, "", GenerateInjection(nil))

	out := GenerateInjection([]Match{
		{Entry: &storage.LoreEntry{Title: "Ashford", Content: " A city. ", EntryType: "location"}},
		{Entry: &storage.LoreEntry{Title: "The Pact", Content: "An oath."}},
	})
	assert.Equal(t, "[LOREBOOK CONTEXT]\n[LOCATION] Ashford: A city.\n[LORE] The Pact: An oath.\n[END LOREBOOK CONTEXT]\n", out)
}
