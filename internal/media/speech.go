package media

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/storage"
)

// DefaultTTSModel is the ElevenLabs model used for narration.
const DefaultTTSModel = "eleven_multilingual_v2"

// Speech synthesizes narration and keeps the voice catalog current.
type Speech struct {
	client *ElevenLabs
	model  string
	usage  SpeechUsage
	voices storage.VoiceStore
	logger *zap.Logger
}

// NewSpeech creates a synthesizer. usage and voices may be nil.
func NewSpeech(client *ElevenLabs, model string, usage SpeechUsage, voices storage.VoiceStore, logger *zap.Logger) *Speech {
	if model == "" {
		model = DefaultTTSModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Speech{client: client, model: model, usage: usage, voices: voices, logger: logger.Named("speech")}
}

type ttsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
}

// Synthesize returns MP3 audio of text spoken by voiceID and bills the
// session by character count.
func (s *Speech) Synthesize(ctx context.Context, sessionID, voiceID, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyPrompt
	}
	if voiceID == "" {
		return nil, fmt.Errorf("speech: voice id is required")
	}
	if s.client == nil {
		return nil, fmt.Errorf("speech: %w", ErrNoProvider)
	}

	audio, err := s.client.postAudio(ctx, "text to speech", "/v1/text-to-speech/"+url.PathEscape(voiceID), ttsRequest{
		Text:          text,
		ModelID:       s.model,
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, err
	}
	if s.usage != nil && sessionID != "" {
		s.usage.TrackTTS(sessionID, s.model, len([]rune(text)))
	}
	return audio, nil
}

type voicesResponse struct {
	Voices []struct {
		VoiceID     string            `json:"voice_id"`
		Name        string            `json:"name"`
		Description string            `json:"description"`
		Labels      map[string]string `json:"labels"`
	} `json:"voices"`
}

// SyncVoices copies the provider's voice list into the catalog and returns
// how many voices were stored.
func (s *Speech) SyncVoices(ctx context.Context) (int, error) {
	if s.client == nil {
		return 0, fmt.Errorf("speech: %w", ErrNoProvider)
	}
	if s.voices == nil {
		return 0, fmt.Errorf("speech: no voice store configured")
	}
	var resp voicesResponse
	if err := s.client.getJSON(ctx, "/v1/voices", &resp); err != nil {
		return 0, err
	}

	n := 0
	for _, v := range resp.Voices {
		labels := make([]string, 0, len(v.Labels))
		for k, val := range v.Labels {
			labels = append(labels, k+"="+val)
		}
		slices.Sort(labels)
		err := s.voices.UpsertVoice(ctx, &storage.Voice{
			VoiceID:     v.VoiceID,
			Provider:    "elevenlabs",
			Name:        v.Name,
			Gender:      v.Labels["gender"],
			Age:         v.Labels["age"],
			Accent:      v.Labels["accent"],
			Description: firstNonEmpty(v.Description, v.Labels["description"]),
			Labels:      labels,
		})
		if err != nil {
			s.logger.Warn("failed to store voice", zap.String("voice_id", v.VoiceID), zap.Error(err))
			continue
		}
		n++
	}
	s.logger.Info("voice catalog synced", zap.Int("voices", n))
	return n, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
