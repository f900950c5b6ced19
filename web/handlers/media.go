package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/intensity"
	"github.com/scrypster/storyforge/internal/media"
	"github.com/scrypster/storyforge/internal/retry"
	"github.com/scrypster/storyforge/internal/storage"
)

// ImageGenerator produces illustrations.
type ImageGenerator interface {
	Generate(ctx context.Context, req media.ImageRequest) (*media.ImageResult, error)
}

// SoundGenerator produces or fetches cached sound effects.
type SoundGenerator interface {
	Generate(ctx context.Context, prompt string, durationSeconds float64, loop bool) (*media.SoundEffect, error)
}

// Synthesizer speaks narration and maintains the voice catalog.
type Synthesizer interface {
	Synthesize(ctx context.Context, sessionID, voiceID, text string) ([]byte, error)
	SyncVoices(ctx context.Context) (int, error)
}

// PendingAudioRecorder queues synthesized segments until the client has
// played them.
type PendingAudioRecorder interface {
	AddPendingAudio(sessionID string, segments ...string) error
}

// MismatchRecorder appends intensity mismatches to the audit trail.
type MismatchRecorder interface {
	Record(ctx context.Context, m intensity.Mismatch)
}

// MediaDeps are the collaborators of MediaHandlers. Nil fields make their
// routes answer 503.
type MediaDeps struct {
	Images  ImageGenerator
	Sounds  SoundGenerator
	Speech  Synthesizer
	Voices  storage.VoiceStore
	Auditor MismatchRecorder
	Audio   PendingAudioRecorder
}

// MediaHandlers serves image, sound and speech generation.
type MediaHandlers struct {
	deps   MediaDeps
	logger *zap.Logger
}

// NewMediaHandlers creates the media handlers.
func NewMediaHandlers(deps MediaDeps, logger *zap.Logger) *MediaHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaHandlers{deps: deps, logger: logger.Named("media_api")}
}

// Register mounts the media routes on mux.
func (h *MediaHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions/{id}/images", h.GenerateImage)
	mux.HandleFunc("POST /api/sessions/{id}/speech", h.Speak)
	mux.HandleFunc("POST /api/sessions/{id}/intensity-audit", h.RecordMismatch)
	mux.HandleFunc("POST /api/sfx", h.SoundEffect)
	mux.HandleFunc("GET /api/voices", h.ListVoices)
	mux.HandleFunc("POST /api/voices/sync", h.SyncVoices)
}

// ImageRequest is the request body for POST /api/sessions/{id}/images.
type ImageRequest struct {
	Prompt            string `json:"prompt"`
	Size              string `json:"size"`
	Quality           string `json:"quality"`
	ReferenceImageURL string `json:"reference_image_url"`
	Seed              int    `json:"seed"`
}

// SoundEffectRequest is the request body for POST /api/sfx.
type SoundEffectRequest struct {
	Prompt          string  `json:"prompt"`
	DurationSeconds float64 `json:"duration_seconds"`
	Loop            bool    `json:"loop"`
}

// SpeechRequest is the request body for POST /api/sessions/{id}/speech.
type SpeechRequest struct {
	VoiceID   string `json:"voice_id"`
	Text      string `json:"text"`
	SegmentID string `json:"segment_id"` // generated when empty
}

// MismatchRequest is the request body for POST /api/sessions/{id}/intensity-audit.
type MismatchRequest struct {
	Dimension string `json:"dimension"`
	Expected  int    `json:"expected"`
	Actual    int    `json:"actual"`
	Excerpt   string `json:"excerpt"`
}

// VoiceResponse is one catalog entry.
type VoiceResponse struct {
	VoiceID     string   `json:"voice_id"`
	Name        string   `json:"name"`
	Gender      string   `json:"gender,omitempty"`
	Age         string   `json:"age,omitempty"`
	Accent      string   `json:"accent,omitempty"`
	Description string   `json:"description,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

func unavailable(w http.ResponseWriter, what string) {
	respondError(w, http.StatusServiceUnavailable, what+" is not configured", nil)
}

// respondMediaError maps provider failures onto HTTP statuses.
func (h *MediaHandlers) respondMediaError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, media.ErrEmptyPrompt):
		respondError(w, http.StatusBadRequest, op+": prompt is required", err)
	case errors.Is(err, media.ErrNoProvider):
		respondError(w, http.StatusServiceUnavailable, op+": no provider configured", err)
	case retry.IsContentPolicy(err):
		respondError(w, http.StatusUnprocessableEntity, op+": rejected by content policy", err)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		h.logger.Warn("media request failed", zap.String("op", op), zap.Error(err))
		respondError(w, http.StatusBadGateway, op+" failed", err)
	}
}

// GenerateImage handles POST /api/sessions/{id}/images.
func (h *MediaHandlers) GenerateImage(w http.ResponseWriter, r *http.Request) {
	if h.deps.Images == nil {
		unavailable(w, "image generation")
		return
	}
	var req ImageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.deps.Images.Generate(r.Context(), media.ImageRequest{
		SessionID:         r.PathValue("id"),
		Prompt:            req.Prompt,
		Size:              req.Size,
		Quality:           req.Quality,
		ReferenceImageURL: req.ReferenceImageURL,
		Seed:              req.Seed,
	})
	if err != nil {
		h.respondMediaError(w, "image generation", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func writeAudio(w http.ResponseWriter, audio []byte, cached bool) {
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// SoundEffect handles POST /api/sfx and returns the MP3 bytes.
func (h *MediaHandlers) SoundEffect(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sounds == nil {
		unavailable(w, "sound effects")
		return
	}
	var req SoundEffectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sfx, err := h.deps.Sounds.Generate(r.Context(), req.Prompt, req.DurationSeconds, req.Loop)
	if err != nil {
		h.respondMediaError(w, "sound generation", err)
		return
	}
	writeAudio(w, sfx.Audio, sfx.Cached)
}

// Speak handles POST /api/sessions/{id}/speech and returns the MP3 bytes.
func (h *MediaHandlers) Speak(w http.ResponseWriter, r *http.Request) {
	if h.deps.Speech == nil {
		unavailable(w, "speech")
		return
	}
	var req SpeechRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VoiceID == "" {
		respondError(w, http.StatusBadRequest, "voice_id is required", nil)
		return
	}
	sessionID := r.PathValue("id")
	audio, err := h.deps.Speech.Synthesize(r.Context(), sessionID, req.VoiceID, req.Text)
	if err != nil {
		h.respondMediaError(w, "speech", err)
		return
	}
	if req.SegmentID == "" {
		req.SegmentID = uuid.NewString()
	}
	if h.deps.Audio != nil {
		// A full pending-audio map only loses the replay hint, not the audio.
		if err := h.deps.Audio.AddPendingAudio(sessionID, req.SegmentID); err != nil {
			h.logger.Warn("failed to queue pending audio", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	w.Header().Set("X-Segment-ID", req.SegmentID)
	writeAudio(w, audio, false)
}

// ListVoices handles GET /api/voices?provider=elevenlabs.
func (h *MediaHandlers) ListVoices(w http.ResponseWriter, r *http.Request) {
	if h.deps.Voices == nil {
		unavailable(w, "voice catalog")
		return
	}
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		provider = "elevenlabs"
	}
	voices, err := h.deps.Voices.ListVoices(r.Context(), provider)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list voices", err)
		return
	}
	out := make([]VoiceResponse, 0, len(voices))
	for _, v := range voices {
		out = append(out, VoiceResponse{
			VoiceID:     v.VoiceID,
			Name:        v.Name,
			Gender:      v.Gender,
			Age:         v.Age,
			Accent:      v.Accent,
			Description: v.Description,
			Labels:      v.Labels,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// SyncVoices handles POST /api/voices/sync.
func (h *MediaHandlers) SyncVoices(w http.ResponseWriter, r *http.Request) {
	if h.deps.Speech == nil {
		unavailable(w, "speech")
		return
	}
	n, err := h.deps.Speech.SyncVoices(r.Context())
	if err != nil {
		h.respondMediaError(w, "voice sync", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"synced": n})
}

// RecordMismatch handles POST /api/sessions/{id}/intensity-audit.
// Recording never fails the request.
func (h *MediaHandlers) RecordMismatch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Auditor == nil {
		unavailable(w, "intensity audit")
		return
	}
	var req MismatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Dimension == "" {
		respondError(w, http.StatusBadRequest, "dimension is required", nil)
		return
	}
	h.deps.Auditor.Record(r.Context(), intensity.Mismatch{
		SessionID: r.PathValue("id"),
		Dimension: req.Dimension,
		Expected:  req.Expected,
		Actual:    req.Actual,
		Excerpt:   req.Excerpt,
	})
	w.WriteHeader(http.StatusAccepted)
}
