package llm

import "context"

// ChatRequest is a single system+user chat completion. Extraction agents
// always request JSON-object output.
type ChatRequest struct {
	// Agent names the calling agent; it drives budget classification.
	Agent string

	// Model overrides the client's default model when non-empty.
	Model string

	System string
	User   string

	// MaxTokens is the requested output budget before agent adjustment.
	MaxTokens int

	// Temperature is omitted for reasoning-model families.
	Temperature *float64

	// JSONMode sets response_format to json_object.
	JSONMode bool

	// SessionID attributes usage to a story session. Optional.
	SessionID string
}

// ChatResponse carries the first choice's content plus usage counters.
type ChatResponse struct {
	Content          string
	Model            string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatCompleter is the interface for OpenAI-compatible chat completion.
type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Provider() string
	GetModel() string
}

// UsageRecorder receives token usage after every successful completion.
// The usage ledger implements it.
type UsageRecorder interface {
	TrackCompletion(sessionID, provider, model string, promptTokens, completionTokens int)
}
