// Package events validates and normalizes inbound socket events before
// any handler sees them.
package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Inbound event names.
const (
	ContinueStory            = "continue-story"
	VoiceInput               = "voice-input"
	SubmitChoice             = "submit-choice"
	CheckReady               = "check-ready"
	RequestPictureBookImages = "request-picture-book-images"
	CancelGeneration         = "cancel-generation"
	EndSession               = "end-session"
)

// Outbound event names.
const (
	UsageUpdate        = "usage-update"
	GenerationProgress = "generation-progress"
	PictureBookImage   = "picture-book-image"
	Error              = "error"
)

// Field limits.
const (
	MaxTranscriptLength = 2000
	MaxDirectionLength  = 2000
	MaxPictureBookPages = 32
	MaxPromptLength     = 1000
)

// Event is a validated inbound event. Only the fields relevant to Name are
// set.
type Event struct {
	Name       string  `json:"event"`
	SessionID  string  `json:"session_id"`
	ChoiceID   string  `json:"choice_id,omitempty"`
	Transcript string  `json:"transcript,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Direction  string  `json:"direction,omitempty"`
	Autoplay   bool    `json:"autoplay,omitempty"`
	Pages      []int   `json:"pages,omitempty"`
	Prompt     string  `json:"prompt,omitempty"`
}

// Validation is the outcome of Validate. Event is nil unless Valid.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
	Event  *Event   `json:"-"`
}

// Known reports whether name is an inbound event.
func Known(name string) bool {
	switch name {
	case ContinueStory, VoiceInput, SubmitChoice, CheckReady, RequestPictureBookImages,
		CancelGeneration, EndSession:
		return true
	}
	return false
}

// fields collects errors while reading a decoded payload.
type fields struct {
	raw    map[string]any
	errors []string
}

func (f *fields) fail(format string, args ...any) {
	f.errors = append(f.errors, fmt.Sprintf(format, args...))
}

// uuid reads a required canonical UUID and returns it lowercased.
func (f *fields) uuid(key string) string {
	v, ok := f.raw[key]
	if !ok || v == nil {
		f.fail("%s is required", key)
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail("%s must be a string", key)
		return ""
	}
	// uuid.Parse also accepts urn and braced forms; only the 36 char form is allowed.
	id, err := uuid.Parse(s)
	if len(s) != 36 || err != nil {
		f.fail("%s must be a valid UUID", key)
		return ""
	}
	return id.String()
}

// text reads an optional string, trimmed and truncated to limit runes.
func (f *fields) text(key string, limit int, required bool) string {
	v, ok := f.raw[key]
	if !ok || v == nil {
		if required {
			f.fail("%s is required", key)
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail("%s must be a string", key)
		return ""
	}
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > limit {
		s = strings.TrimSpace(string(r[:limit]))
	}
	if s == "" && required {
		f.fail("%s must not be empty", key)
	}
	return s
}

func (f *fields) flag(key string) bool {
	v, ok := f.raw[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		f.fail("%s must be a boolean", key)
	}
	return b
}

// unit reads an optional number and clamps it to [0,1]. A missing value
// is treated as full confidence.
func (f *fields) unit(key string) float64 {
	v, ok := f.raw[key]
	if !ok || v == nil {
		return 1
	}
	n, ok := v.(float64)
	if !ok {
		f.fail("%s must be a number", key)
		return 0
	}
	return max(0, min(1, n))
}

func (f *fields) pages(key string) []int {
	v, ok := f.raw[key]
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		f.fail("%s must be an array of page numbers", key)
		return nil
	}
	if len(list) > MaxPictureBookPages {
		f.fail("%s accepts at most %d pages", key, MaxPictureBookPages)
		return nil
	}
	out := make([]int, 0, len(list))
	seen := make(map[int]bool, len(list))
	for _, item := range list {
		n, ok := item.(float64)
		if !ok || n != float64(int(n)) || n < 1 {
			f.fail("%s must contain positive integers", key)
			return nil
		}
		if !seen[int(n)] {
			seen[int(n)] = true
			out = append(out, int(n))
		}
	}
	return out
}

// Validate checks payload against the rules for the named event. It never
// returns a Go error; everything wrong with the event is listed in Errors.
func Validate(name string, payload json.RawMessage) Validation {
	if !Known(name) {
		return Validation{Errors: []string{fmt.Sprintf("unknown event %q", name)}}
	}
	f := &fields{}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, &f.raw); err != nil || f.raw == nil {
		return Validation{Errors: []string{"payload must be a JSON object"}}
	}

	ev := &Event{Name: name, SessionID: f.uuid("session_id")}
	switch name {
	case ContinueStory:
		ev.Direction = f.text("direction", MaxDirectionLength, false)
		ev.Autoplay = f.flag("autoplay")
	case VoiceInput:
		ev.Transcript = f.text("transcript", MaxTranscriptLength, true)
		ev.Confidence = f.unit("confidence")
	case SubmitChoice:
		ev.ChoiceID = f.uuid("choice_id")
		ev.Autoplay = f.flag("autoplay")
	case CheckReady:
		ev.Autoplay = f.flag("autoplay")
	case RequestPictureBookImages:
		ev.Pages = f.pages("pages")
		ev.Prompt = f.text("prompt", MaxPromptLength, false)
	}

	if len(f.errors) > 0 {
		return Validation{Errors: f.errors}
	}
	return Validation{Valid: true, Event: ev}
}
