package handlers

import (
	"github.com/scrypster/storyforge/internal/extraction"
	"github.com/scrypster/storyforge/internal/persona"
	"github.com/scrypster/storyforge/internal/usage"
	"github.com/scrypster/storyforge/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// IntensityResponse is the response format for GET /api/intensity.
type IntensityResponse struct {
	Dimension   string   `json:"dimension"`
	Label       string   `json:"label"`
	Level       int      `json:"level"`
	Band        int      `json:"band"`
	Base        string   `json:"base"`
	Modifiers   []string `json:"modifiers"`
	Instruction string   `json:"instruction"`
}

// IntensityBlockRequest is the request body for POST /api/intensity/block.
type IntensityBlockRequest struct {
	Levels map[string]int `json:"levels"`
}

// IntensityBlockResponse carries the rendered prompt block.
type IntensityBlockResponse struct {
	Block string `json:"block"`
}

// PersonaListResponse is the response format for GET /api/personas/{kind}.
type PersonaListResponse struct {
	Kind    persona.Kind `json:"kind"`
	Default string       `json:"default"`
	Keys    []string     `json:"keys"`
}

// GenreMatchRequest is the request body for POST /api/personas/{kind}/match.
type GenreMatchRequest struct {
	Genres map[string]float64 `json:"genres"`
}

// GenreMatchResponse reports the best persona for the weighted genres.
// Matched is false when the fallback persona was returned.
type GenreMatchResponse struct {
	Persona persona.Persona `json:"persona"`
	Matched bool            `json:"matched"`
}

// EndSessionResponse is the body of DELETE /api/sessions/{id}.
type EndSessionResponse struct {
	SessionID string          `json:"session_id"`
	Usage     *usage.Snapshot `json:"usage,omitempty"`
}

// ExtractRequest is the request body for POST /api/extract.
type ExtractRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ExtractResponse is the pipeline outcome with its deduplicated entities.
type ExtractResponse struct {
	Success  bool                              `json:"success"`
	Duration string                            `json:"duration"`
	Results  map[types.Kind]*extraction.Result `json:"results"`
	Entities []types.Extracted                 `json:"entities"`
}

// LoreEntryRequest is the request body for POST /api/sessions/{id}/lore.
type LoreEntryRequest struct {
	ID         string   `json:"id,omitempty"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	EntryType  string   `json:"entry_type"`
	Tags       []string `json:"tags"`
	Importance int      `json:"importance"`
}

// LoreTriggerRequest is the request body for POST /api/sessions/{id}/lore/triggered.
type LoreTriggerRequest struct {
	Text       string `json:"text"`
	MaxEntries int    `json:"max_entries"`
}

// LoreMatch is one triggered lore entry.
type LoreMatch struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	EntryType string  `json:"entry_type"`
	Score     float64 `json:"score"`
}

// LoreTriggerResponse lists the triggered entries and the context block
// built from them.
type LoreTriggerResponse struct {
	Matches   []LoreMatch `json:"matches"`
	Injection string      `json:"injection"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	Registry      map[string]int `json:"registry"`
	Connections   int            `json:"connections"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}
