package extraction

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/scrypster/storyforge/pkg/types"
)

func fullScript() *scriptedClient {
	return newScriptedClient().
		on(AgentCharacter, ok(`{"characters":[{"name":"Mara","role":"protagonist"},{"name":"Ember","species":"fox","is_animal_companion":true,"companion_to":"Mara"}]}`)).
		on(AgentItem, ok(`{"items":[{"name":"The Hollow Map","item_type":"document"},{"name":"Ember"}]}`)).
		on(AgentFaction, ok(`{"factions":[{"name":"The Wardens","faction_type":"military"}]}`)).
		on(AgentLore, ok(`{"lore":[{"title":"The Sundering","content":"The night the moon split."},{"title":"Ashford Keep","content":"Built on the bones of an older fortress."}]}`)).
		on(AgentWorld, ok(`{"world":[{"name":"Ashford","genre":"fantasy","locations":[{"name":"Ashford Keep"},{"name":"The Wardens"}]}]}`))
}

func TestPipeline_RunsEveryExtractor(t *testing.T) {
	client := fullScript()
	p := NewPipeline(client, testCfg(), zaptest.NewLogger(t))

	pr := p.Run(context.Background(), Request{SessionID: "s-1", Text: "Mara and Ember reach Ashford Keep."})
	require.True(t, pr.Success)
	require.Len(t, pr.Results, 5)
	for _, agent := range []string{AgentCharacter, AgentItem, AgentFaction, AgentLore, AgentWorld} {
		assert.Equal(t, 1, client.callCount(agent), agent)
	}

	chars := pr.Result(types.KindCharacter).Characters
	require.Len(t, chars, 2)
	assert.True(t, chars[1].IsAnimalCompanion)
	assert.Equal(t, "Mara", chars[1].CompanionTo)
}

func TestPipeline_DedupesAcrossCategories(t *testing.T) {
	pr := NewPipeline(fullScript(), testCfg(), nil).Run(context.Background(), Request{Text: "..."})

	items := pr.Result(types.KindItem)
	require.Len(t, items.Items, 1)
	assert.Equal(t, "The Hollow Map", items.Items[0].Name)
	assert.Contains(t, items.Filtered, Filtered{Title: "Ember", Reason: types.KindCharacter})

	world := pr.Result(types.KindWorld).World
	require.NotNil(t, world)
	require.Len(t, world.Locations, 1)
	assert.Equal(t, "Ashford Keep", world.Locations[0].Name)
	assert.Contains(t, pr.Result(types.KindWorld).Filtered, Filtered{Title: "The Wardens", Reason: types.KindFaction})

	lore := pr.Result(types.KindLore)
	require.Len(t, lore.Lore, 1)
	assert.Equal(t, "The Sundering", lore.Lore[0].Title)
	assert.Contains(t, lore.Filtered, Filtered{Title: "Ashford Keep", Reason: types.KindLocation})

	seen := map[string]types.Kind{}
	for _, e := range pr.Entities() {
		if e.Kind() == types.KindWorld {
			continue
		}
		k := nameKey(e.Label())
		_, dup := seen[k]
		assert.False(t, dup, "%q appears in more than one category", e.Label())
		seen[k] = e.Kind()
	}
}

func TestPipeline_OneFailureDegradesGracefully(t *testing.T) {
	client := fullScript()
	client.replies[AgentFaction] = []reply{fail(http.StatusForbidden)}

	pr := NewPipeline(client, testCfg(), nil).Run(context.Background(), Request{Text: "..."})
	assert.False(t, pr.Success)

	factions := pr.Result(types.KindFaction)
	assert.False(t, factions.Success)
	assert.NotEmpty(t, factions.Error)
	assert.Empty(t, factions.Factions)

	assert.True(t, pr.Result(types.KindCharacter).Success)
	assert.Len(t, pr.Result(types.KindCharacter).Characters, 2)
	// Without a faction claim the location survives.
	assert.Len(t, pr.Result(types.KindWorld).World.Locations, 2)
}

type panickyExtractor struct{}

func (panickyExtractor) Kind() types.Kind { return types.KindItem }
func (panickyExtractor) Extract(context.Context, Request) *Result {
	panic("boom")
}

type nilExtractor struct{}

func (nilExtractor) Kind() types.Kind { return types.KindFaction }
func (nilExtractor) Extract(context.Context, Request) *Result { return nil }

func TestPipeline_RecoversPanics(t *testing.T) {
	client := fullScript()
	p := NewPipelineWith(nil,
		NewCharacterExtractor(client, testCfg(), nil),
		panickyExtractor{},
		nilExtractor{},
	)

	pr := p.Run(context.Background(), Request{Text: "..."})
	assert.False(t, pr.Success)
	require.Len(t, pr.Results, 3)
	assert.Contains(t, pr.Result(types.KindItem).Error, "panic: boom")
	assert.Equal(t, "extractor returned no result", pr.Result(types.KindFaction).Error)
	assert.True(t, pr.Result(types.KindCharacter).Success)
	assert.Nil(t, pr.Result(types.KindLore))
}

func TestPipeline_ConcurrencyLimit(t *testing.T) {
	cfg := testCfg()
	cfg.Concurrency = 1
	pr := NewPipeline(fullScript(), cfg, nil).Run(context.Background(), Request{Text: "..."})
	assert.True(t, pr.Success)
	assert.Len(t, pr.Results, 5)
}

func TestPipeline_ReportsProgress(t *testing.T) {
	type report struct {
		kind        types.Kind
		done, total int
	}
	var got []report
	p := NewPipeline(fullScript(), testCfg(), nil)
	p.OnProgress(func(sessionID string, kind types.Kind, done, total int) {
		assert.Equal(t, "s-1", sessionID)
		got = append(got, report{kind, done, total})
	})

	p.Run(context.Background(), Request{SessionID: "s-1", Text: "Mara reaches Ashford Keep."})
	require.Len(t, got, 6)
	assert.Equal(t, report{"", 0, 5}, got[0])
	kinds := make(map[types.Kind]bool)
	for i, r := range got[1:] {
		assert.Equal(t, i+1, r.done)
		assert.Equal(t, 5, r.total)
		kinds[r.kind] = true
	}
	assert.Len(t, kinds, 5)
}
