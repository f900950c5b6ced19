package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiError(status int) *openai.Error {
	return &openai.Error{
		StatusCode: status,
		Request:    httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil),
		Response:   &http.Response{StatusCode: status},
	}
}

type fakeCompletions struct {
	calls   int
	params  []map[string]any
	results []string
	err     error
}

func (f *fakeCompletions) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.calls++
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	f.params = append(f.params, m)
	if f.err != nil {
		return nil, f.err
	}
	body := `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[]}`
	if len(f.results) > 0 {
		body = f.results[0]
		f.results = f.results[1:]
	}
	var out openai.ChatCompletion
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type recordedUsage struct {
	session, provider, model string
	prompt, completion       int
}

type fakeRecorder struct{ got []recordedUsage }

func (r *fakeRecorder) TrackCompletion(sessionID, provider, model string, promptTokens, completionTokens int) {
	r.got = append(r.got, recordedUsage{sessionID, provider, model, promptTokens, completionTokens})
}

const okCompletion = `{
  "id": "c1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"items\": []}"}}],
  "usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
}`

func TestOpenAIClient_CompleteRecordsUsage(t *testing.T) {
	fake := &fakeCompletions{results: []string{okCompletion}}
	rec := &fakeRecorder{}
	c := newOpenAIClient(OpenAIConfig{}, fake, rec, nil)

	temp := 0.3
	resp, err := c.Complete(context.Background(), ChatRequest{
		Agent:       "ItemExtractor",
		System:      "sys",
		User:        "text",
		MaxTokens:   4000,
		Temperature: &temp,
		JSONMode:    true,
		SessionID:   "s-1",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"items": []}`, resp.Content)
	assert.Equal(t, 150, resp.TotalTokens)
	assert.Equal(t, []recordedUsage{{"s-1", "openai", "gpt-4o-mini", 120, 30}}, rec.got)

	p := fake.params[0]
	assert.EqualValues(t, 12000, p["max_tokens"])
	assert.NotContains(t, p, "max_completion_tokens")
	assert.EqualValues(t, 0.3, p["temperature"])
	assert.Equal(t, map[string]any{"type": "json_object"}, p["response_format"])
	assert.Equal(t, "s-1", p["user"])
}

func TestOpenAIClient_ReasoningModelParams(t *testing.T) {
	fake := &fakeCompletions{results: []string{okCompletion}}
	c := newOpenAIClient(OpenAIConfig{Model: "o3-mini"}, fake, nil, nil)

	temp := 0.9
	_, err := c.Complete(context.Background(), ChatRequest{Agent: "story", User: "go", MaxTokens: 2000, Temperature: &temp})
	require.NoError(t, err)

	p := fake.params[0]
	assert.EqualValues(t, 28000, p["max_completion_tokens"])
	assert.NotContains(t, p, "max_tokens")
	assert.NotContains(t, p, "temperature")
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	fake := &fakeCompletions{}
	c := newOpenAIClient(OpenAIConfig{}, fake, nil, nil)
	_, err := c.Complete(context.Background(), ChatRequest{User: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIClient_WrapsAPIError(t *testing.T) {
	fake := &fakeCompletions{err: apiError(http.StatusUnauthorized)}
	c := newOpenAIClient(OpenAIConfig{Provider: "venice"}, fake, nil, nil)
	_, err := c.Complete(context.Background(), ChatRequest{User: "x"})
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "venice", pe.Provider)
	assert.Equal(t, http.StatusUnauthorized, pe.HTTPStatusCode())
}

func TestOpenAIClient_CircuitOpensOnServerErrors(t *testing.T) {
	fake := &fakeCompletions{err: errors.New("connection reset")}
	c := newOpenAIClient(OpenAIConfig{}, fake, nil, nil)
	for i := 0; i < 5; i++ {
		_, _ = c.Complete(context.Background(), ChatRequest{User: "x"})
	}
	_, err := c.Complete(context.Background(), ChatRequest{User: "x"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 5, fake.calls)
	assert.Equal(t, "open", c.circuitBreaker.State())
}

func TestOpenAIClient_ClientErrorsDoNotTrip(t *testing.T) {
	fake := &fakeCompletions{err: apiError(http.StatusBadRequest)}
	c := newOpenAIClient(OpenAIConfig{}, fake, nil, nil)
	for i := 0; i < 8; i++ {
		_, _ = c.Complete(context.Background(), ChatRequest{User: "x"})
	}
	assert.Equal(t, 8, fake.calls)
	assert.Equal(t, "closed", c.circuitBreaker.State())
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
