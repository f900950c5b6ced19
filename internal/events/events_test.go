package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sessionID = "0b6f3c2e-8d1a-4c5e-9f7a-2b3c4d5e6f70"
	choiceID  = "7a8b9c0d-1e2f-4a3b-8c4d-5e6f7a8b9c0d"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload string
		valid   bool
		errors  []string
		check   func(t *testing.T, ev *Event)
	}{
		{
			name:    "continue story",
			event:   ContinueStory,
			payload: `{"session_id":"` + sessionID + `","direction":"  head north  ","autoplay":true}`,
			valid:   true,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, "head north", ev.Direction)
				assert.True(t, ev.Autoplay)
			},
		},
		{
			name:    "uppercase session id is normalized",
			event:   CheckReady,
			payload: `{"session_id":"` + strings.ToUpper(sessionID) + `"}`,
			valid:   true,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, sessionID, ev.SessionID)
			},
		},
		{
			name:    "missing session id",
			event:   CheckReady,
			payload: `{}`,
			errors:  []string{"session_id is required"},
		},
		{
			name:    "invalid session id",
			event:   ContinueStory,
			payload: `{"session_id":"not-a-uuid"}`,
			errors:  []string{"session_id must be a valid UUID"},
		},
		{
			name:    "braced uuid rejected",
			event:   ContinueStory,
			payload: `{"session_id":"{` + sessionID + `}"}`,
			errors:  []string{"session_id must be a valid UUID"},
		},
		{
			name:    "submit choice",
			event:   SubmitChoice,
			payload: `{"session_id":"` + sessionID + `","choice_id":"` + choiceID + `"}`,
			valid:   true,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, choiceID, ev.ChoiceID)
			},
		},
		{
			name:    "submit choice bad choice id",
			event:   SubmitChoice,
			payload: `{"session_id":"` + sessionID + `","choice_id":42}`,
			errors:  []string{"choice_id must be a string"},
		},
		{
			name:    "voice input confidence clamped high",
			event:   VoiceInput,
			payload: `{"session_id":"` + sessionID + `","transcript":"open the door","confidence":1.7}`,
			valid:   true,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, 1.0, ev.Confidence)
				assert.Equal(t, "open the door", ev.Transcript)
			},
		},
		{
			name:    "voice input confidence clamped low",
			event:   VoiceInput,
			payload: `{"session_id":"` + sessionID + `","transcript":"hello","confidence":-3}`,
			valid:   true,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, 0.0, ev.Confidence)
			},
		},
		{
			name:    "voice input needs transcript",
			event:   VoiceInput,
			payload: `{"session_id":"` + sessionID + `","transcript":"   "}`,
			errors:  []string{"transcript must not be empty"},
		},
		{
			name:    "autoplay must be boolean",
			event:   CheckReady,
			payload: `{"session_id":"` + sessionID + `","autoplay":"yes"}`,
			errors:  []string{"autoplay must be a boolean"},
		},
		{
			name:    "picture book pages deduplicated",
			event:   RequestPictureBookImages,
			payload: `{"session_id":"` + sessionID + `","pages":[1,2,2,5]}`,
			valid:   true,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, []int{1, 2, 5}, ev.Pages)
			},
		},
		{
			name:    "picture book prompt trimmed",
			event:   RequestPictureBookImages,
			payload: `{"session_id":"` + sessionID + `","pages":[3],"prompt":"  a fox in the snow "}`,
			valid:   true,
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, "a fox in the snow", ev.Prompt)
			},
		},
		{
			name:    "end session",
			event:   EndSession,
			payload: `{"session_id":"` + sessionID + `"}`,
			valid:   true,
		},
		{
			name:    "cancel generation needs a session",
			event:   CancelGeneration,
			payload: `{}`,
			errors:  []string{"session_id is required"},
		},
		{
			name:    "picture book rejects fractional pages",
			event:   RequestPictureBookImages,
			payload: `{"session_id":"` + sessionID + `","pages":[1.5]}`,
			errors:  []string{"pages must contain positive integers"},
		},
		{
			name:    "errors accumulate",
			event:   SubmitChoice,
			payload: `{"session_id":"x","autoplay":1}`,
			errors:  []string{"session_id must be a valid UUID", "choice_id is required", "autoplay must be a boolean"},
		},
		{
			name:    "payload must be an object",
			event:   CheckReady,
			payload: `[1,2]`,
			errors:  []string{"payload must be a JSON object"},
		},
		{
			name:    "unknown event",
			event:   "drop-tables",
			payload: `{"session_id":"` + sessionID + `"}`,
			errors:  []string{`unknown event "drop-tables"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.event, json.RawMessage(tt.payload))
			assert.Equal(t, tt.valid, v.Valid)
			if !tt.valid {
				assert.Equal(t, tt.errors, v.Errors)
				assert.Nil(t, v.Event)
				return
			}
			assert.Empty(t, v.Errors)
			require.NotNil(t, v.Event)
			assert.Equal(t, tt.event, v.Event.Name)
			if tt.check != nil {
				tt.check(t, v.Event)
			}
		})
	}
}

func TestValidate_TranscriptCapped(t *testing.T) {
	long := strings.Repeat("é", MaxTranscriptLength+50)
	payload, err := json.Marshal(map[string]any{"session_id": sessionID, "transcript": long})
	require.NoError(t, err)

	v := Validate(VoiceInput, payload)
	require.True(t, v.Valid)
	assert.Len(t, []rune(v.Event.Transcript), MaxTranscriptLength)
	assert.Equal(t, 1.0, v.Event.Confidence, "missing confidence defaults to 1")
}

func TestValidate_EmptyPayload(t *testing.T) {
	v := Validate(CheckReady, nil)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"session_id is required"}, v.Errors)
}

func TestValidationJSON(t *testing.T) {
	b, err := json.Marshal(Validation{Errors: []string{"session_id is required"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"valid":false,"errors":["session_id is required"]}`, string(b))
}
