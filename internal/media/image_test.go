package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyforge/internal/llm"
)

var errSafety = errors.New("content_policy_violation: your request was rejected by our safety system")

// fakeImages returns the scripted errors in order, then always, then
// succeeds.
type fakeImages struct {
	mu      sync.Mutex
	errs    []error
	always  error
	url     string
	prompts []string
	params  []openai.ImageGenerateParams
}

func (f *fakeImages) Generate(_ context.Context, body openai.ImageGenerateParams, _ ...option.RequestOption) (*openai.ImagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, body.Prompt)
	f.params = append(f.params, body)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if f.always != nil {
		return nil, f.always
	}
	return &openai.ImagesResponse{Data: []openai.Image{{URL: f.url}}}, nil
}

type imageCall struct {
	session, model, size, quality string
	n                             int
}

type fakeImageUsage struct {
	mu    sync.Mutex
	calls []imageCall
}

func (f *fakeImageUsage) TrackImage(sessionID, model, size, quality string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, imageCall{sessionID, model, size, quality, n})
}

func assetServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("PNGDATA"))
		case "/out.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("JPEGDATA"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestImageService(t *testing.T, images *fakeImages, fal *FalBackend, usage ImageUsage) *ImageService {
	t.Helper()
	dalle := newDalleBackend(images, "", nil)
	s, err := NewImageService(dalle, fal, ImageConfig{
		Dir:   t.TempDir(),
		Retry: Retry{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}, usage, nil)
	require.NoError(t, err)
	return s
}

func TestPromptLadder(t *testing.T) {
	ladder := PromptLadder("  A knight stands over a bloody corpse in the rain. Thunder rolls.  ")
	require.Len(t, ladder, 3)
	assert.Equal(t, "A knight stands over a bloody corpse in the rain. Thunder rolls.", ladder[0])
	assert.Equal(t, "A knight stands over a in the rain. Thunder rolls.", ladder[1])
	assert.True(t, strings.HasPrefix(ladder[2], abstractPrefix))
	assert.True(t, strings.HasSuffix(ladder[2], "A knight stands over a in the rain"))
	assert.NotContains(t, ladder[2], "Thunder")
}

func TestSoften_CaseInsensitive(t *testing.T) {
	assert.Equal(t, "The duel ends, the victor kneels.", Soften("The BRUTAL duel ends, the victor kneels."))
	assert.Equal(t, "A quiet garden", Soften("A quiet garden"))
}

func TestImageService_FirstTier(t *testing.T) {
	srv := assetServer(t)
	images := &fakeImages{url: srv.URL + "/img.png"}
	usage := &fakeImageUsage{}
	s := newTestImageService(t, images, nil, usage)

	res, err := s.Generate(context.Background(), ImageRequest{SessionID: "s-1", Prompt: "A lighthouse at dusk"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tier)
	assert.Equal(t, "dall-e", res.Provider)
	assert.Equal(t, "dall-e-3", res.Model)
	assert.True(t, strings.HasPrefix(res.PublicPath, "/images/"))
	assert.True(t, strings.HasSuffix(res.LocalPath, ".png"))

	data, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	require.Len(t, images.params, 1)
	assert.Equal(t, openai.ImageGenerateParamsSize("1024x1024"), images.params[0].Size)
	assert.Equal(t, openai.ImageGenerateParamsQuality("standard"), images.params[0].Quality)
	assert.Equal(t, []imageCall{{"s-1", "dall-e-3", "1024x1024", "standard", 1}}, usage.calls)
}

func TestImageService_ContentPolicySoftensPrompt(t *testing.T) {
	srv := assetServer(t)
	images := &fakeImages{url: srv.URL + "/img.png", errs: []error{errSafety, errSafety}}
	s := newTestImageService(t, images, nil, nil)

	res, err := s.Generate(context.Background(), ImageRequest{Prompt: "A gruesome battlefield at dawn"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Tier)
	assert.Equal(t, []string{
		"A gruesome battlefield at dawn",
		"A battlefield at dawn",
		abstractPrefix + "A battlefield at dawn",
	}, images.prompts, "content-policy refusals are not retried within a tier")
	assert.Equal(t, images.prompts[2], res.Prompt)
}

func TestImageService_AllTiersRefused(t *testing.T) {
	images := &fakeImages{always: errSafety}
	usage := &fakeImageUsage{}
	s := newTestImageService(t, images, nil, usage)

	_, err := s.Generate(context.Background(), ImageRequest{SessionID: "s-1", Prompt: "A gory scene"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every prompt tier")
	assert.Len(t, images.prompts, 3)
	assert.Empty(t, usage.calls)
}

func TestImageService_TransientErrorRetriedWithinTier(t *testing.T) {
	srv := assetServer(t)
	images := &fakeImages{
		url:  srv.URL + "/img.png",
		errs: []error{&llm.ProviderError{Provider: "dall-e", StatusCode: http.StatusServiceUnavailable}},
	}
	s := newTestImageService(t, images, nil, nil)

	res, err := s.Generate(context.Background(), ImageRequest{Prompt: "A forest path"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tier)
	assert.Len(t, images.prompts, 2)
}

func TestImageService_AuthErrorAborts(t *testing.T) {
	images := &fakeImages{always: &llm.ProviderError{Provider: "dall-e", StatusCode: http.StatusUnauthorized, Message: "bad key"}}
	s := newTestImageService(t, images, nil, nil)

	_, err := s.Generate(context.Background(), ImageRequest{Prompt: "A forest path"})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.Len(t, images.prompts, 1)
}

func TestImageService_ReferenceImageUsesFal(t *testing.T) {
	var (
		mu   sync.Mutex
		got  falRequest
		auth string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/fal-ai/flux/dev", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"images": []map[string]string{{"url": "http://" + r.Host + "/out.jpg"}}})
	})
	mux.HandleFunc("/out.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("JPEGDATA"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	fal, err := NewFalBackend(FalConfig{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()}, nil)
	require.NoError(t, err)
	images := &fakeImages{}
	usage := &fakeImageUsage{}
	s := newTestImageService(t, images, fal, usage)

	res, err := s.Generate(context.Background(), ImageRequest{
		SessionID:         "s-2",
		Prompt:            "Mara reading by candlelight",
		Size:              SizeLandscape,
		ReferenceImageURL: "https://example.com/mara.png",
		Seed:              42,
	})
	require.NoError(t, err)
	assert.Equal(t, "fal", res.Provider)
	assert.True(t, strings.HasSuffix(res.LocalPath, ".jpg"))
	assert.Empty(t, images.prompts, "dall-e is not called for reference requests")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Key k", auth)
	assert.Equal(t, "https://example.com/mara.png", got.ImageURL)
	assert.Equal(t, "landscape_16_9", got.ImageSize)
	assert.Equal(t, 42, got.Seed)
	assert.Equal(t, []imageCall{{"s-2", "fal-ai/flux/dev", SizeLandscape, "standard", 1}}, usage.calls)
}

func TestNewImageService_RequiresBackend(t *testing.T) {
	_, err := NewImageService(nil, nil, ImageConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrNoProvider)

	_, err = NewDalleBackend(DalleConfig{}, nil)
	assert.ErrorIs(t, err, llm.ErrNoAPIKey)
	_, err = NewFalBackend(FalConfig{}, nil)
	assert.ErrorIs(t, err, llm.ErrNoAPIKey)
}
