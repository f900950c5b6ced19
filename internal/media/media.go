// Package media generates the non-text assets of a story: illustrations
// through DALL-E or Fal, narration through ElevenLabs text-to-speech, and
// sound effects through ElevenLabs sound generation with an on-disk cache.
//
// Every provider call runs through the retry combinator and a per-provider
// circuit breaker; usage is reported to the session cost ledger.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scrypster/storyforge/internal/llm"
)

var (
	// ErrNoProvider is returned when no backend has credentials configured.
	ErrNoProvider = errors.New("no media provider configured")

	// ErrEmptyPrompt is returned for blank prompts and texts.
	ErrEmptyPrompt = errors.New("prompt is required")
)

// maxDownloadBytes caps a downloaded image or audio response.
const maxDownloadBytes = 32 << 20

// ImageUsage receives one call per generated image batch.
type ImageUsage interface {
	TrackImage(sessionID, model, size, quality string, n int)
}

// SpeechUsage receives one call per synthesized passage.
type SpeechUsage interface {
	TrackTTS(sessionID, model string, characters int)
}

// Retry tunes the attempt budget shared by media providers.
type Retry struct {
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // default 1s
}

func defaultHTTPClient(c *http.Client, timeout time.Duration) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: timeout}
}

// statusError reads a non-2xx response into a ProviderError so the retry
// classifier and circuit breaker can act on the status.
func statusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &llm.ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

// readBody reads at most maxDownloadBytes.
func readBody(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxDownloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxDownloadBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxDownloadBytes)
	}
	return b, nil
}

// writeFileAtomic writes data next to path and renames it into place so a
// reader never observes a partial file.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// fetch downloads url with ctx.
func fetch(ctx context.Context, client *http.Client, provider, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %s asset: %w", provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, "", statusError(provider, resp)
	}
	b, err := readBody(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return b, resp.Header.Get("Content-Type"), nil
}
