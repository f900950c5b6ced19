package media

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyforge/internal/storage/sqlite"
)

type ttsCall struct {
	session, model string
	chars          int
}

type fakeSpeechUsage struct{ calls []ttsCall }

func (f *fakeSpeechUsage) TrackTTS(sessionID, model string, characters int) {
	f.calls = append(f.calls, ttsCall{sessionID, model, characters})
}

func TestSpeech_Synthesize(t *testing.T) {
	stub := newElevenLabsStub(t)
	usage := &fakeSpeechUsage{}
	sp := NewSpeech(stub.client(t, "test-key"), "", usage, nil, nil)

	audio, err := sp.Synthesize(context.Background(), "s-1", "voice-1", "  Hello, Mara.  ")
	require.NoError(t, err)
	assert.Equal(t, "ID3-speech", string(audio))

	require.Len(t, stub.tts, 1)
	assert.Equal(t, "Hello, Mara.", stub.tts[0].Text)
	assert.Equal(t, DefaultTTSModel, stub.tts[0].ModelID)
	assert.Equal(t, "/v1/text-to-speech/voice-1", stub.path[0])
	assert.Equal(t, []ttsCall{{"s-1", DefaultTTSModel, 12}}, usage.calls)

	_, err = sp.Synthesize(context.Background(), "s-1", "voice-1", " ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	_, err = sp.Synthesize(context.Background(), "s-1", "", "text")
	assert.Error(t, err)
}

func TestSpeech_SyncVoices(t *testing.T) {
	stub := newElevenLabsStub(t)
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "voices.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sp := NewSpeech(stub.client(t, "test-key"), "", nil, store, nil)
	n, err := sp.SyncVoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	voices, err := store.ListVoices(context.Background(), "elevenlabs")
	require.NoError(t, err)
	require.Len(t, voices, 2)
	byID := map[string]string{}
	for _, v := range voices {
		byID[v.VoiceID] = v.Name + "|" + v.Gender + "|" + v.Description
	}
	assert.Equal(t, "Rachel|female|", byID["v1"])
	assert.Equal(t, "Clyde|male|war veteran", byID["v2"])
}
