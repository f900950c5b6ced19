package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/storage"
)

// Sound generation bounds accepted by the provider.
const (
	MinSFXSeconds          = 0.5
	MaxSFXSeconds          = 22.0
	DefaultPromptInfluence = 0.3
)

// SoundEffect is one generated or cached effect.
type SoundEffect struct {
	Key    string
	Path   string
	Audio  []byte
	Cached bool
}

// SoundEffects generates sound effects and caches them on disk, keyed by
// prompt, duration and loop flag.
type SoundEffects struct {
	client    *ElevenLabs
	dir       string
	influence float64
	store     storage.SFXCacheStore
	logger    *zap.Logger
}

// NewSoundEffects creates a cache in dir. store may be nil, in which case
// only the files are kept.
func NewSoundEffects(client *ElevenLabs, dir string, store storage.SFXCacheStore, logger *zap.Logger) *SoundEffects {
	if dir == "" {
		dir = "./data/sfx"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SoundEffects{
		client:    client,
		dir:       dir,
		influence: DefaultPromptInfluence,
		store:     store,
		logger:    logger.Named("sfx"),
	}
}

type soundGenerationRequest struct {
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"duration_seconds"`
	PromptInfluence float64 `json:"prompt_influence"`
	Loop            bool    `json:"loop"`
}

// CacheKey is the hex sha256 of "prompt:duration:loop".
func CacheKey(prompt string, durationSeconds float64, loop bool) string {
	sum := sha256.Sum256([]byte(prompt + ":" + strconv.FormatFloat(durationSeconds, 'f', -1, 64) + ":" + strconv.FormatBool(loop)))
	return hex.EncodeToString(sum[:])
}

// Generate returns the effect for prompt, calling the provider only on a
// cache miss. durationSeconds is clamped to the provider's range.
func (s *SoundEffects) Generate(ctx context.Context, prompt string, durationSeconds float64, loop bool) (*SoundEffect, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	durationSeconds = max(MinSFXSeconds, min(MaxSFXSeconds, durationSeconds))
	key := CacheKey(prompt, durationSeconds, loop)
	path := filepath.Join(s.dir, key+".mp3")
	log := s.logger.With(zap.String("cache_key", key))

	if audio, err := os.ReadFile(path); err == nil && len(audio) > 0 {
		log.Debug("sound effect cache hit")
		s.record(ctx, key, prompt, durationSeconds, loop, path, len(audio))
		return &SoundEffect{Key: key, Path: path, Audio: audio, Cached: true}, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("unreadable cache file, regenerating", zap.Error(err))
	}

	if s.client == nil {
		return nil, fmt.Errorf("sound effects: %w", ErrNoProvider)
	}
	audio, err := s.client.postAudio(ctx, "sound generation", "/v1/sound-generation", soundGenerationRequest{
		Text:            prompt,
		DurationSeconds: durationSeconds,
		PromptInfluence: s.influence,
		Loop:            loop,
	})
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, audio); err != nil {
		return nil, fmt.Errorf("cache sound effect: %w", err)
	}
	s.record(ctx, key, prompt, durationSeconds, loop, path, len(audio))
	log.Info("sound effect generated", zap.Float64("duration_seconds", durationSeconds), zap.Bool("loop", loop), zap.Int("bytes", len(audio)))
	return &SoundEffect{Key: key, Path: path, Audio: audio}, nil
}

// record upserts the cache row. Failures only cost bookkeeping, so they
// are logged.
func (s *SoundEffects) record(ctx context.Context, key, prompt string, duration float64, loop bool, path string, size int) {
	if s.store == nil {
		return
	}
	err := s.store.RecordSFX(ctx, &storage.SFXCacheEntry{
		CacheKey:        key,
		Prompt:          prompt,
		DurationSeconds: duration,
		Loop:            loop,
		FilePath:        path,
		SizeBytes:       int64(size),
	})
	if err != nil {
		s.logger.Warn("failed to record sound effect", zap.String("cache_key", key), zap.Error(err))
	}
}
