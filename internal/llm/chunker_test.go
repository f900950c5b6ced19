package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_ShortTextUnchanged(t *testing.T) {
	chunks := ChunkText("A short tale.", DefaultChunkSize, DefaultChunkOverlap)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short tale.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestChunkText_Empty(t *testing.T) {
	assert.Empty(t, ChunkText("   \n", 100, 10))
}

func TestChunkText_WindowsOverlapAndCover(t *testing.T) {
	sentence := "The knight rode north through the pass. "
	text := strings.Repeat(sentence, 100) // 4000 bytes

	chunks := ChunkText(text, 1000, 100)
	require.Greater(t, len(chunks), 3)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, len(c.Text), 1000)
		assert.Equal(t, text[c.Start:c.Start+len(c.Text)], c.Text)
		if i > 0 {
			prev := chunks[i-1]
			assert.Less(t, c.Start, prev.Start+len(prev.Text), "chunks must overlap")
			assert.Greater(t, c.Start, prev.Start, "chunks must advance")
		}
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, len(text), last.Start+len(last.Text))
}

func TestChunkText_PrefersSentenceBreak(t *testing.T) {
	text := strings.Repeat("word ", 170) + "End of scene. " + strings.Repeat("x", 400)
	chunks := ChunkText(text, 900, 50)
	require.NotEmpty(t, chunks)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "End of scene. "))
}

func TestChunkText_PrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("a", 850) + "\n\n" + strings.Repeat("b", 400)
	chunks := ChunkText(text, 1000, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 850)+"\n\n", chunks[0].Text)
	assert.Equal(t, strings.Repeat("b", 400), chunks[1].Text)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
