package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyforge/internal/intensity"
	"github.com/scrypster/storyforge/internal/llm"
	"github.com/scrypster/storyforge/internal/media"
	"github.com/scrypster/storyforge/web/handlers"
)

type fakeImages struct {
	req media.ImageRequest
	err error
}

func (f *fakeImages) Generate(_ context.Context, req media.ImageRequest) (*media.ImageResult, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &media.ImageResult{Provider: "dall-e", PublicPath: "/images/x.png", Prompt: req.Prompt, Tier: 1}, nil
}

type fakeSounds struct{ calls int }

func (f *fakeSounds) Generate(_ context.Context, prompt string, _ float64, _ bool) (*media.SoundEffect, error) {
	f.calls++
	if prompt == "" {
		return nil, media.ErrEmptyPrompt
	}
	return &media.SoundEffect{Audio: []byte("ID3"), Cached: f.calls > 1}, nil
}

type fakeAuditor struct{ got []intensity.Mismatch }

func (f *fakeAuditor) Record(_ context.Context, m intensity.Mismatch) {
	f.got = append(f.got, m)
}

func serveMedia(deps handlers.MediaDeps) *http.ServeMux {
	mux := http.NewServeMux()
	handlers.NewMediaHandlers(deps, nil).Register(mux)
	return mux
}

func post(mux http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", path, bytes.NewBufferString(body)))
	return w
}

func TestMedia_GenerateImage(t *testing.T) {
	images := &fakeImages{}
	mux := serveMedia(handlers.MediaDeps{Images: images})

	w := post(mux, "/api/sessions/"+sessionA+"/images", `{"prompt":"a lighthouse in fog","size":"1792x1024"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res media.ImageResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "/images/x.png", res.PublicPath)
	assert.Equal(t, sessionA, images.req.SessionID)
	assert.Equal(t, media.SizeLandscape, images.req.Size)
}

func TestMedia_ImageErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"empty prompt", media.ErrEmptyPrompt, http.StatusBadRequest},
		{"no provider", fmt.Errorf("images: %w", media.ErrNoProvider), http.StatusServiceUnavailable},
		{"content policy", &llm.ProviderError{Provider: "dall-e", StatusCode: 400, Message: "Your request was rejected by our safety system"}, http.StatusUnprocessableEntity},
		{"upstream", &llm.ProviderError{Provider: "dall-e", StatusCode: 503, Message: "overloaded"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := serveMedia(handlers.MediaDeps{Images: &fakeImages{err: tt.err}})
			w := post(mux, "/api/sessions/"+sessionA+"/images", `{"prompt":"x"}`)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMedia_SoundEffect(t *testing.T) {
	mux := serveMedia(handlers.MediaDeps{Sounds: &fakeSounds{}})

	first := post(mux, "/api/sfx", `{"prompt":"thunder","duration_seconds":3}`)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "audio/mpeg", first.Header().Get("Content-Type"))
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "ID3", first.Body.String())

	second := post(mux, "/api/sfx", `{"prompt":"thunder","duration_seconds":3}`)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))

	assert.Equal(t, http.StatusBadRequest, post(mux, "/api/sfx", `{"prompt":""}`).Code)
}

type fakeSpeech struct{ text string }

func (f *fakeSpeech) Synthesize(_ context.Context, _, _, text string) ([]byte, error) {
	f.text = text
	return []byte("ID3narration"), nil
}

func (f *fakeSpeech) SyncVoices(context.Context) (int, error) { return 0, nil }

func TestMedia_SpeakQueuesPendingAudio(t *testing.T) {
	reg := testRegistry()
	speech := &fakeSpeech{}
	mux := serveMedia(handlers.MediaDeps{Speech: speech, Audio: reg})

	w := post(mux, "/api/sessions/"+sessionA+"/speech", `{"voice_id":"v1","text":"The door creaks.","segment_id":"seg-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "seg-1", w.Header().Get("X-Segment-ID"))
	assert.Equal(t, "The door creaks.", speech.text)

	w = post(mux, "/api/sessions/"+sessionA+"/speech", `{"voice_id":"v1","text":"Footsteps."}`)
	require.Equal(t, http.StatusOK, w.Code)
	generated := w.Header().Get("X-Segment-ID")
	assert.NotEmpty(t, generated)

	assert.Equal(t, []string{"seg-1", generated}, reg.TakePendingAudio(sessionA))
	assert.Equal(t, http.StatusBadRequest, post(mux, "/api/sessions/"+sessionA+"/speech", `{"text":"x"}`).Code)
}

func TestMedia_RecordMismatch(t *testing.T) {
	auditor := &fakeAuditor{}
	mux := serveMedia(handlers.MediaDeps{Auditor: auditor})

	w := post(mux, "/api/sessions/"+sessionA+"/intensity-audit", `{"dimension":"violence","expected":80,"actual":40,"excerpt":"they argued"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, auditor.got, 1)
	assert.Equal(t, intensity.Mismatch{SessionID: sessionA, Dimension: "violence", Expected: 80, Actual: 40, Excerpt: "they argued"}, auditor.got[0])

	assert.Equal(t, http.StatusBadRequest, post(mux, "/api/sessions/"+sessionA+"/intensity-audit", `{"expected":1}`).Code)
}

func TestMedia_Unconfigured(t *testing.T) {
	mux := serveMedia(handlers.MediaDeps{})
	for _, path := range []string{"/api/sfx", "/api/sessions/" + sessionA + "/speech", "/api/voices/sync", "/api/sessions/" + sessionA + "/images"} {
		assert.Equal(t, http.StatusServiceUnavailable, post(mux, path, `{}`).Code, path)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/voices", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
