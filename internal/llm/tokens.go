package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// TokenCounter counts tokens with the cl100k_base encoding. When the
// encoding cannot be loaded it falls back to EstimateTokens.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

var (
	counterOnce     sync.Once
	counterInstance *TokenCounter
)

// DefaultTokenCounter returns the shared counter, loading the encoding once.
func DefaultTokenCounter() *TokenCounter {
	counterOnce.Do(func() {
		counterInstance = &TokenCounter{}
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			counterInstance.encoding = enc
		}
	})
	return counterInstance
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.encoding == nil {
		return EstimateTokens(text)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.encoding.Encode(text, nil, nil))
}

// Method reports which counting method is active.
func (c *TokenCounter) Method() string {
	if c == nil || c.encoding == nil {
		return "estimate"
	}
	return "tiktoken"
}
