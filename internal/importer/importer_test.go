package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyforge/internal/lorebook"
	"github.com/scrypster/storyforge/internal/storage"
	"github.com/scrypster/storyforge/internal/storage/sqlite"
)

const session = "5e4d3c2b-1a09-4f8e-a7d6-c5b4a3928170"

func writeVault(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func loadedLorebook(t *testing.T) *lorebook.Lorebook {
	t.Helper()
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "lore.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	lb := lorebook.New(store, nil)
	require.NoError(t, lb.Load(context.Background(), session))
	return lb
}

func TestParseNote(t *testing.T) {
	note, skip, err := ParseNote([]byte(`---
title: Mara Voss
tags: [captain, "the Veil"]
aliases: Mara, Captain Voss
importance: "80"
---
# Mara Voss
Captain of the [[Silver Gull|Gull]], sworn to [[The Order]]. #smuggler
`), "characters/mara-voss.md")
	require.NoError(t, err)
	require.False(t, skip)

	assert.Equal(t, "Mara Voss", note.Title)
	assert.Equal(t, "character", note.EntryType)
	assert.Equal(t, 80, note.Importance)
	assert.Equal(t, []string{"captain", "the Veil", "Mara", "Captain Voss", "smuggler"}, note.Tags)
	assert.Equal(t, "Captain of the Gull, sworn to The Order. smuggler", note.Content)
	assert.Equal(t, []WikiLink{{Target: "Silver Gull", Alias: "Gull"}, {Target: "The Order"}}, note.Links)
}

func TestParseNote_Defaults(t *testing.T) {
	note, _, err := ParseNote([]byte("A ruined fortress on the cliffs."), "Ashford_Keep.md")
	require.NoError(t, err)
	assert.Equal(t, "Ashford Keep", note.Title)
	assert.Equal(t, "lore", note.EntryType)
	assert.Equal(t, DefaultImportance, note.Importance)
	assert.Empty(t, note.Tags)

	note, _, err = ParseNote([]byte("---\nimportance: 150\ntype: Artifact\n---\nbody"), "items/x.md")
	require.NoError(t, err)
	assert.Equal(t, 100, note.Importance)
	assert.Equal(t, "artifact", note.EntryType)

	// No closing delimiter means it is all body.
	note, _, err = ParseNote([]byte("---\ntitle: nope\nbody"), "x.md")
	require.NoError(t, err)
	assert.Equal(t, "x", note.Title)
	assert.Contains(t, note.Content, "title: nope")
}

func TestParseNote_Errors(t *testing.T) {
	_, _, err := ParseNote([]byte("---\ntags: [unclosed\n---\nbody"), "bad.md")
	assert.ErrorContains(t, err, "bad.md")

	_, _, err = ParseNote([]byte("---\nimportance: high\n---\nbody"), "bad.md")
	assert.ErrorContains(t, err, "importance must be an integer")

	_, skip, err := ParseNote([]byte("---\nlorebook_skip: true\n---\nsecret"), "x.md")
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestTypeFromPath(t *testing.T) {
	tests := map[string]string{
		"characters/a.md":  "character",
		"Factions/a.md":    "faction",
		"histories/a.md":   "history",
		"glass/a.md":       "glass",
		"a.md":             "lore",
		"places/deep/a.md": "place",
	}
	for path, want := range tests {
		assert.Equal(t, want, typeFromPath(path), path)
	}
}

func TestImportDir(t *testing.T) {
	dir := writeVault(t, map[string]string{
		"characters/mara-voss.md":  "---\ntitle: Mara Voss\nimportance: 80\n---\nCaptain of the [[Silver Gull]], sworn to [[The Order]].",
		"locations/Ashford Keep.md": "# Ashford Keep\nA ruined fortress. Mara hid here, see [[Mara Voss]].",
		"factions/the-order.md":    "---\nlorebook_skip: true\n---\nsecret",
		"notes/broken.md":          "---\ntags: [unclosed\n---\nbody",
		"notes/empty.md":           "",
		".obsidian/workspace.md":   "ignored",
		"readme.txt":               "ignored",
	})
	lb := loadedLorebook(t)
	imp := New(lb, nil)
	ctx := context.Background()

	res, err := imp.ImportDir(ctx, session, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, filepath.Join("notes", "broken.md"), res.Errors[0].Path)
	assert.Equal(t, []string{"Silver Gull", "The Order"}, res.DanglingLinks)
	assert.False(t, res.Truncated)

	matches := lb.FindTriggered("The boat docked below Ashford Keep.", 5)
	require.NotEmpty(t, matches)
	assert.Equal(t, "Ashford Keep", matches[0].Entry.Title)
	assert.Equal(t, "location", matches[0].Entry.EntryType)
	assert.Equal(t, EntryID(session, "locations/Ashford Keep.md"), matches[0].Entry.ID)

	// Re-importing updates in place.
	res, err = imp.ImportDir(ctx, session, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 2, lb.Len())
}

func TestImportDir_StopsAtCapacity(t *testing.T) {
	files := make(map[string]string, storage.MaxLoreEntries+3)
	for i := 0; i < storage.MaxLoreEntries+3; i++ {
		files[fmt.Sprintf("lore/note-%03d.md", i)] = fmt.Sprintf("Entry %d of the chronicle.", i)
	}
	dir := writeVault(t, files)
	lb := loadedLorebook(t)

	res, err := New(lb, nil).ImportDir(context.Background(), session, dir)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, storage.MaxLoreEntries, res.Imported)
	assert.Equal(t, storage.MaxLoreEntries, lb.Len())
}

func TestImportDir_MissingDir(t *testing.T) {
	_, err := New(loadedLorebook(t), nil).ImportDir(context.Background(), session, filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestImportDir_Canceled(t *testing.T) {
	dir := writeVault(t, map[string]string{"a.md": "Alpha lore."})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(loadedLorebook(t), nil).ImportDir(ctx, session, dir)
	assert.ErrorIs(t, err, context.Canceled)
}
