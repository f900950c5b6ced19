package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/extraction"
	"github.com/scrypster/storyforge/internal/intensity"
	"github.com/scrypster/storyforge/internal/lorebook"
	"github.com/scrypster/storyforge/internal/persona"
	"github.com/scrypster/storyforge/internal/storage"
	"github.com/scrypster/storyforge/internal/usage"
)

// maxBodyBytes bounds request bodies; extraction documents are the largest.
const maxBodyBytes = 8 << 20

// Extractor runs the extraction pipeline on a document.
type Extractor interface {
	Run(ctx context.Context, req extraction.Request) *extraction.PipelineResult
}

// APIHandlers contains HTTP handlers for the REST API. Nil collaborators
// make their routes answer 503.
type APIHandlers struct {
	ledger    *usage.Ledger
	intensity *intensity.Table
	extractor Extractor
	lore      storage.LoreStore
	logger    *zap.Logger
}

// NewAPIHandlers creates the REST handlers. The intensity table defaults
// to the embedded one.
func NewAPIHandlers(ledger *usage.Ledger, table *intensity.Table, extractor Extractor, lore storage.LoreStore, logger *zap.Logger) *APIHandlers {
	if table == nil {
		table = intensity.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandlers{
		ledger:    ledger,
		intensity: table,
		extractor: extractor,
		lore:      lore,
		logger:    logger.Named("api"),
	}
}

// Register mounts the API routes on mux.
func (h *APIHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/{id}/usage", h.GetUsage)
	mux.HandleFunc("GET /api/intensity", h.GetIntensity)
	mux.HandleFunc("POST /api/intensity/block", h.BuildIntensityBlock)
	mux.HandleFunc("GET /api/personas/{kind}", h.ListPersonas)
	mux.HandleFunc("GET /api/personas/{kind}/{key}", h.GetPersona)
	mux.HandleFunc("POST /api/personas/{kind}/match", h.MatchPersona)
	mux.HandleFunc("POST /api/extract", h.Extract)
	mux.HandleFunc("POST /api/sessions/{id}/lore", h.AddLoreEntry)
	mux.HandleFunc("DELETE /api/sessions/{id}/lore/{entry}", h.DeleteLoreEntry)
	mux.HandleFunc("POST /api/sessions/{id}/lore/triggered", h.TriggeredLore)
}

// GetUsage handles GET /api/sessions/{id}/usage - the live ledger, or the
// persisted snapshot once the session has been flushed.
func (h *APIHandlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		respondError(w, http.StatusServiceUnavailable, "usage tracking is not configured", nil)
		return
	}
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "session id must be a UUID", err)
		return
	}
	snap, err := h.ledger.Load(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no usage recorded for session", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load usage", err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// GetIntensity handles GET /api/intensity?dimension=violence&level=81.
func (h *APIHandlers) GetIntensity(w http.ResponseWriter, r *http.Request) {
	dimension := r.URL.Query().Get("dimension")
	level, err := strconv.Atoi(r.URL.Query().Get("level"))
	if dimension == "" || err != nil {
		respondError(w, http.StatusBadRequest, "dimension and integer level are required", err)
		return
	}
	inst, err := h.intensity.Resolve(dimension, level)
	if errors.Is(err, intensity.ErrUnknownDimension) {
		respondError(w, http.StatusNotFound, "unknown dimension", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to resolve intensity", err)
		return
	}
	respondJSON(w, http.StatusOK, IntensityResponse{
		Dimension:   inst.Dimension,
		Label:       inst.Label,
		Level:       inst.Level,
		Band:        inst.Band,
		Base:        inst.Base,
		Modifiers:   inst.Modifiers,
		Instruction: inst.Text(),
	})
}

// BuildIntensityBlock handles POST /api/intensity/block.
func (h *APIHandlers) BuildIntensityBlock(w http.ResponseWriter, r *http.Request) {
	var req IntensityBlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusOK, IntensityBlockResponse{Block: h.intensity.BuildIntensityBlock(req.Levels)})
}

func personaTable(w http.ResponseWriter, r *http.Request) (*persona.Table, bool) {
	switch persona.Kind(strings.TrimSuffix(r.PathValue("kind"), "s")) {
	case persona.KindDirector:
		return persona.Directors(), true
	case persona.KindAuthor:
		return persona.Authors(), true
	}
	respondError(w, http.StatusNotFound, "persona kind must be directors or authors", nil)
	return nil, false
}

// ListPersonas handles GET /api/personas/{kind}.
func (h *APIHandlers) ListPersonas(w http.ResponseWriter, r *http.Request) {
	t, ok := personaTable(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, PersonaListResponse{Kind: t.Kind(), Default: t.Default().Key, Keys: t.Keys()})
}

// GetPersona handles GET /api/personas/{kind}/{key}. Unknown keys resolve
// to the table's fallback persona.
func (h *APIHandlers) GetPersona(w http.ResponseWriter, r *http.Request) {
	t, ok := personaTable(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, t.Resolve(r.PathValue("key")))
}

// MatchPersona handles POST /api/personas/{kind}/match.
func (h *APIHandlers) MatchPersona(w http.ResponseWriter, r *http.Request) {
	t, ok := personaTable(w, r)
	if !ok {
		return
	}
	var req GenreMatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, matched := t.GetForGenres(req.Genres)
	if !matched {
		p = t.Default()
	}
	respondJSON(w, http.StatusOK, GenreMatchResponse{Persona: p, Matched: matched})
}

// Extract handles POST /api/extract. Provider failures are reported in
// the body's per-category results, not as HTTP errors.
func (h *APIHandlers) Extract(w http.ResponseWriter, r *http.Request) {
	if h.extractor == nil {
		respondError(w, http.StatusServiceUnavailable, "extraction is not configured", nil)
		return
	}
	var req ExtractRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required", nil)
		return
	}
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "session_id must be a UUID", err)
			return
		}
		req.SessionID = id.String()
	}

	res := h.extractor.Run(r.Context(), extraction.Request{SessionID: req.SessionID, Text: req.Text})
	respondJSON(w, http.StatusOK, ExtractResponse{
		Success:  res.Success,
		Duration: res.Duration.String(),
		Results:  res.Results,
		Entities: res.Entities(),
	})
}

// loadLorebook opens the session's lorebook or writes the error response.
func (h *APIHandlers) loadLorebook(w http.ResponseWriter, r *http.Request) (*lorebook.Lorebook, bool) {
	if h.lore == nil {
		respondError(w, http.StatusServiceUnavailable, "lore storage is not configured", nil)
		return nil, false
	}
	lb := lorebook.New(h.lore, h.logger)
	if err := lb.Load(r.Context(), r.PathValue("id")); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load lorebook", err)
		return nil, false
	}
	return lb, true
}

// AddLoreEntry handles POST /api/sessions/{id}/lore.
func (h *APIHandlers) AddLoreEntry(w http.ResponseWriter, r *http.Request) {
	var req LoreEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "title and content are required", nil)
		return
	}
	lb, ok := h.loadLorebook(w, r)
	if !ok {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	entry := &storage.LoreEntry{
		ID:         req.ID,
		Title:      strings.TrimSpace(req.Title),
		Content:    strings.TrimSpace(req.Content),
		EntryType:  req.EntryType,
		Tags:       req.Tags,
		Importance: max(0, min(100, req.Importance)),
	}
	err := lb.Add(r.Context(), entry)
	switch {
	case errors.Is(err, storage.ErrLoreCapacity):
		respondError(w, http.StatusConflict, "lorebook is full", err)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to save lore entry", err)
	default:
		respondJSON(w, http.StatusCreated, req)
	}
}

// DeleteLoreEntry handles DELETE /api/sessions/{id}/lore/{entry}.
func (h *APIHandlers) DeleteLoreEntry(w http.ResponseWriter, r *http.Request) {
	lb, ok := h.loadLorebook(w, r)
	if !ok {
		return
	}
	err := lb.Remove(r.Context(), r.PathValue("entry"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "lore entry not found", nil)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to delete lore entry", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// TriggeredLore handles POST /api/sessions/{id}/lore/triggered.
func (h *APIHandlers) TriggeredLore(w http.ResponseWriter, r *http.Request) {
	var req LoreTriggerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	lb, ok := h.loadLorebook(w, r)
	if !ok {
		return
	}
	matches := lb.FindTriggered(req.Text, req.MaxEntries)
	resp := LoreTriggerResponse{Matches: make([]LoreMatch, 0, len(matches)), Injection: lorebook.GenerateInjection(matches)}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, LoreMatch{ID: m.Entry.ID, Title: m.Entry.Title, EntryType: m.Entry.EntryType, Score: m.Score})
	}
	respondJSON(w, http.StatusOK, resp)
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}
	return true
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent, so an encoding failure cannot be reported.
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
