package llm

import (
	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/config"
)

// Providers holds the configured chat clients. A nil field means the
// provider has no API key.
type Providers struct {
	// OpenAI serves extraction and general story calls.
	OpenAI ChatCompleter
	// Venice serves uncensored expansion of scaffold placeholders.
	Venice ChatCompleter
}

// NewProviders builds every chat client that has credentials configured.
func NewProviders(cfg config.LLMConfig, recorder UsageRecorder, logger *zap.Logger) (*Providers, error) {
	p := &Providers{}
	if cfg.OpenAIAPIKey != "" {
		c, err := NewOpenAIClient(OpenAIConfig{
			Provider: "openai",
			APIKey:   cfg.OpenAIAPIKey,
			Model:    cfg.OpenAIModel,
			BaseURL:  cfg.OpenAIBaseURL,
			Timeout:  cfg.Timeout,
		}, recorder, logger)
		if err != nil {
			return nil, err
		}
		p.OpenAI = c
	}
	if cfg.VeniceAPIKey != "" {
		c, err := NewOpenAIClient(OpenAIConfig{
			Provider: "venice",
			APIKey:   cfg.VeniceAPIKey,
			Model:    cfg.VeniceModel,
			BaseURL:  cfg.VeniceBaseURL,
			Timeout:  cfg.Timeout,
		}, recorder, logger)
		if err != nil {
			return nil, err
		}
		p.Venice = c
	}
	return p, nil
}

// Primary returns OpenAI when configured, else Venice, else nil.
func (p *Providers) Primary() ChatCompleter {
	if p == nil {
		return nil
	}
	if p.OpenAI != nil {
		return p.OpenAI
	}
	return p.Venice
}
