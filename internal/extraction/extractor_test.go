package extraction

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/llm"
	"github.com/scrypster/storyforge/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type reply struct {
	content string
	err     error
}

// scriptedClient answers each agent from its own queue. Once a queue is
// down to its last reply, that reply repeats.
type scriptedClient struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   map[string][]llm.ChatRequest
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		replies: make(map[string][]reply),
		calls:   make(map[string][]llm.ChatRequest),
	}
}

func (s *scriptedClient) on(agent string, replies ...reply) *scriptedClient {
	s.replies[agent] = append(s.replies[agent], replies...)
	return s
}

func (s *scriptedClient) Complete(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.Agent] = append(s.calls[req.Agent], req)
	q := s.replies[req.Agent]
	if len(q) == 0 {
		return &llm.ChatResponse{Content: `{}`}, nil
	}
	r := q[0]
	if len(q) > 1 {
		s.replies[req.Agent] = q[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &llm.ChatResponse{Content: r.content, Model: "test-model"}, nil
}

func (s *scriptedClient) Provider() string { return "test" }
func (s *scriptedClient) GetModel() string { return "test-model" }

func (s *scriptedClient) callCount(agent string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls[agent])
}

func ok(content string) reply { return reply{content: content} }

func fail(status int) reply {
	return reply{err: &llm.ProviderError{Provider: "test", StatusCode: status, Message: http.StatusText(status)}}
}

func testCfg() Config {
	return Config{BackoffBase: time.Millisecond, MaxRetries: 3}
}

const twoChunkText = "Mara walked into the old library of Ashford Keep.\n\nMara found the map beneath the loose floorboard."

func twoChunkCfg() Config {
	cfg := testCfg()
	cfg.ChunkSize = 60
	cfg.ChunkOverlap = 0
	return cfg
}

func TestCharacterExtractor_FillsDefaults(t *testing.T) {
	client := newScriptedClient().on(AgentCharacter,
		ok(`{"characters":[{"name":" Mara ","role":"hero"},{"name":""},{"name":"Tomas","is_alive":false,"importance":"250"}]}`))

	res := NewCharacterExtractor(client, testCfg(), zap.NewNop()).Extract(context.Background(), Request{Text: "Mara and Tomas."})
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Characters, 2)

	mara := res.Characters[0]
	assert.Equal(t, "Mara", mara.Name)
	assert.Equal(t, types.RoleSupporting, mara.Role)
	assert.Equal(t, "human", mara.Species)
	assert.Equal(t, "unknown", mara.Gender)
	assert.Equal(t, "unknown", mara.Age)
	assert.Equal(t, types.ConfidenceMedium, mara.Confidence)
	assert.Equal(t, 50, mara.Importance)
	assert.True(t, mara.IsAlive)
	assert.False(t, mara.IsDeceased)
	assert.Nil(t, mara.DeathDetails)
	assert.NotNil(t, mara.Aliases)
	assert.NotNil(t, mara.Relationships)

	tomas := res.Characters[1]
	assert.True(t, tomas.IsDeceased)
	assert.False(t, tomas.IsAlive)
	require.NotNil(t, tomas.DeathDetails)
	assert.Equal(t, "unknown", tomas.DeathDetails.Cause)
	assert.Equal(t, 100, tomas.Importance)
}

func TestCharacterExtractor_RequestShape(t *testing.T) {
	client := newScriptedClient().on(AgentCharacter, ok(`{"characters":[]}`))
	res := NewCharacterExtractor(client, testCfg(), nil).Extract(context.Background(), Request{SessionID: "s-1", Text: "Quiet night."})
	require.True(t, res.Success)
	assert.Empty(t, res.Characters)
	assert.Equal(t, 1, res.Chunks)

	req := client.calls[AgentCharacter][0]
	assert.True(t, req.JSONMode)
	assert.Equal(t, "s-1", req.SessionID)
	assert.Equal(t, 8000, req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.3, *req.Temperature, 1e-9)
	assert.Contains(t, req.System, `"characters"`)
	assert.NotContains(t, req.User, "part 1 of")
	assert.Contains(t, req.User, "Quiet night.")
}

func TestCharacterExtractor_MergesAcrossChunks(t *testing.T) {
	client := newScriptedClient().on(AgentCharacter,
		ok(`{"characters":[{"name":"Mara","role":"minor","species":"human","confidence":"low"}]}`),
		ok(`{"characters":[{"name":"mara","role":"protagonist","species":"half-elf","aliases":"The Archivist","backstory":"Raised among the stacks.","confidence":"high"}]}`),
	)

	res := NewCharacterExtractor(client, twoChunkCfg(), nil).Extract(context.Background(), Request{Text: twoChunkText})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.Chunks)
	require.Len(t, res.Characters, 1)

	c := res.Characters[0]
	assert.Equal(t, "Mara", c.Name)
	assert.Equal(t, types.RoleProtagonist, c.Role)
	assert.Equal(t, "half-elf", c.Species)
	assert.Equal(t, []string{"The Archivist"}, c.Aliases)
	assert.Equal(t, "Raised among the stacks.", c.Backstory)
	assert.Equal(t, types.ConfidenceHigh, c.Confidence)
	assert.Equal(t, 0, c.SourceChunkIndex)

	calls := client.calls[AgentCharacter]
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].User, "(part 1 of 2)")
	assert.Contains(t, calls[1].User, "(part 2 of 2)")
}

func TestCharacterExtractor_RecoversTruncatedResponse(t *testing.T) {
	client := newScriptedClient().on(AgentCharacter,
		ok(`{"characters":[{"name":"Mara","role":"protagonist"},{"name":"Tom`))

	res := NewCharacterExtractor(client, testCfg(), nil).Extract(context.Background(), Request{Text: "Mara and Tom."})
	require.True(t, res.Success)
	require.Len(t, res.Characters, 1)
	assert.Equal(t, "Mara", res.Characters[0].Name)
	assert.Equal(t, 1, client.callCount(AgentCharacter))
}

func TestExtractor_RetriesTransientFailures(t *testing.T) {
	client := newScriptedClient().on(AgentItem,
		fail(http.StatusServiceUnavailable),
		ok(""),
		ok(`{"items":[{"name":"Lantern"}]}`),
	)

	res := NewItemExtractor(client, testCfg(), nil).Extract(context.Background(), Request{Text: "A lantern."})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, client.callCount(AgentItem))
	require.Len(t, res.Items, 1)
	assert.Equal(t, types.ItemTypeMisc, res.Items[0].ItemType)
	assert.Equal(t, types.RarityCommon, res.Items[0].Rarity)
}

func TestExtractor_TerminalErrorStopsImmediately(t *testing.T) {
	client := newScriptedClient().on(AgentFaction, fail(http.StatusUnauthorized))

	res := NewFactionExtractor(client, twoChunkCfg(), nil).Extract(context.Background(), Request{Text: twoChunkText})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "chunk 0")
	assert.Equal(t, 1, client.callCount(AgentFaction), "401 is not retried and stops later chunks")
	assert.Empty(t, res.Factions)
}

func TestExtractor_KeepsGoodChunksWhenOneIsExhausted(t *testing.T) {
	client := newScriptedClient().on(AgentItem,
		ok(`{"items":[{"name":"Map","item_type":"document"}]}`),
		fail(http.StatusBadGateway),
	)
	cfg := twoChunkCfg()
	cfg.MaxRetries = 2

	res := NewItemExtractor(client, cfg, nil).Extract(context.Background(), Request{Text: twoChunkText})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "chunk 1")
	require.Len(t, res.Items, 1)
	assert.Equal(t, "document", res.Items[0].ItemType)
	assert.Equal(t, 3, client.callCount(AgentItem))
}

func TestExtractor_CanceledContext(t *testing.T) {
	client := newScriptedClient().on(AgentLore, fail(http.StatusServiceUnavailable))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testCfg()
	cfg.BackoffBase = time.Hour
	res := NewLoreExtractor(client, cfg, nil).Extract(ctx, Request{Text: "Old tales."})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestLoreExtractor_FiltersOtherCategories(t *testing.T) {
	client := newScriptedClient().on(AgentLore, ok(`{"lore":[
		{"title":"The Sword of Dawn","content":"An ancient blade said to burn with morning light.","entry_type":"legend"},
		{"title":"The Iron Brotherhood","content":"A mercenary company that sells its steel to any crown."},
		{"title":"Aldric Vane","content":"He was the last steward of the northern keep."},
		{"title":"The Sundering","content":"The night the moon split and the old gods fell silent.","entry_type":"history","tags":["Moon","Gods"]},
		{"title":"Untitled","content":""}
	]}`))

	res := NewLoreExtractor(client, testCfg(), nil).Extract(context.Background(), Request{Text: "..."})
	require.True(t, res.Success)
	require.Len(t, res.Lore, 1)
	assert.Equal(t, "The Sundering", res.Lore[0].Title)
	assert.Equal(t, []string{"moon", "gods"}, res.Lore[0].Tags)
	assert.Equal(t, types.LoreTypeHistory, res.Lore[0].EntryType)

	assert.ElementsMatch(t, []Filtered{
		{Title: "The Sword of Dawn", Reason: types.KindItem},
		{Title: "The Iron Brotherhood", Reason: types.KindFaction},
		{Title: "Aldric Vane", Reason: types.KindCharacter},
	}, res.Filtered)
}

func TestWorldExtractor_FoldsChunks(t *testing.T) {
	client := newScriptedClient().on(AgentWorld,
		ok(`{"world":[{"name":"Ashford","genre":"Fantasy","locations":[{"name":"Ashford Keep","location_type":"building"}]}]}`),
		ok(`{"world":[{"genre":"fantasy","tone":"Melancholy","themes":["memory"],"locations":[{"name":"ashford keep","description":"A ruined fortress."},{"name":"The Stacks"}]}]}`),
	)

	res := NewWorldExtractor(client, twoChunkCfg(), nil).Extract(context.Background(), Request{Text: twoChunkText})
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.World)
	w := res.World
	assert.Equal(t, "Ashford", w.Name)
	assert.Equal(t, "fantasy", w.Genre)
	assert.Equal(t, "melancholy", w.Tone)
	assert.Equal(t, []string{"memory"}, w.Themes)
	require.Len(t, w.Locations, 2)
	assert.Equal(t, "Ashford Keep", w.Locations[0].Name)
	assert.Equal(t, "building", w.Locations[0].LocationType)
	assert.Equal(t, "A ruined fortress.", w.Locations[0].Description)
	assert.Equal(t, "other", w.Locations[1].LocationType)
}

func TestWorldExtractor_NoWorld(t *testing.T) {
	client := newScriptedClient().on(AgentWorld, ok(`{"world":[]}`))
	res := NewWorldExtractor(client, testCfg(), nil).Extract(context.Background(), Request{Text: "..."})
	assert.True(t, res.Success)
	assert.Nil(t, res.World)
	assert.Empty(t, res.Entities())
}

func TestResult_Entities(t *testing.T) {
	r := &Result{
		Characters: []types.Character{{Name: "Mara"}},
		Items:      []types.Item{{Name: "Map"}},
		World:      &types.WorldInfo{Name: "Ashford"},
	}
	var labels []string
	for _, e := range r.Entities() {
		labels = append(labels, string(e.Kind())+":"+e.Label())
	}
	assert.Equal(t, []string{"character:Mara", "item:Map", "world:Ashford"}, labels)
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{ChunkOverlap: 50000}.withDefaults()
	assert.Equal(t, llm.DefaultChunkSize, c.ChunkSize)
	assert.Equal(t, llm.DefaultChunkOverlap, c.ChunkOverlap)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, time.Second, c.BackoffBase)

	small := Config{ChunkSize: 100, ChunkOverlap: 100}.withDefaults()
	assert.Equal(t, 0, small.ChunkOverlap)
	assert.True(t, strings.Contains(userPrompt("items", llm.Chunk{Index: 1, Text: "x"}, 3), "part 2 of 3"))
}
