// Package retry wraps remote calls (LLM completions, image generation, voice
// synthesis) with bounded attempts and exponential backoff.
//
// Delays follow 2^attempt * BaseDelay for 1-based attempts, so with the
// default one-second base the waits are 2s, 4s, 8s... Errors classified as
// terminal abort immediately and propagate unchanged.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// DefaultMaxAttempts is the attempt budget most callers use.
const DefaultMaxAttempts = 3

// nonRetryable lists lowercase substrings that mark an error as terminal.
var nonRetryable = []string{
	"content policy",
	"content_policy",
	"safety system",
	"invalid input",
	"invalid_input",
	"authentication",
	"api key",
	"api_key",
	"unauthorized",
}

// StatusCoder is implemented by provider errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatusCode() int
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as terminal regardless of its message.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsRetryable is the default classifier. Context cancellation, explicitly
// permanent errors, 400/401/403 responses and the terminal substrings are
// not retried; everything else is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatusCode() {
		case 400, 401, 403:
			return false
		}
	}
	return !IsContentPolicy(err) && !matchesAny(err, nonRetryable)
}

// IsContentPolicy reports whether err is a provider content-policy refusal.
// Image generation uses this to step down its prompt ladder.
func IsContentPolicy(err error) bool {
	return matchesAny(err, []string{"content policy", "content_policy", "safety system"})
}

func matchesAny(err error, needles []string) bool {
	msg := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// Policy configures one retried operation.
type Policy struct {
	Name        string           // operation name used in log fields
	MaxAttempts int              // total attempts including the first (default 3)
	BaseDelay   time.Duration    // backoff unit (default 1s)
	Retryable   func(error) bool // classifier (default IsRetryable)
	Logger      *zap.Logger
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Name == "" {
		p.Name = "operation"
	}
	return p
}

// newBackOff returns a jitter-free exponential schedule starting at 2*base.
func newBackOff(base time.Duration) *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     2 * base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         64 * base,
	}
}

// ExhaustedError is returned once every attempt failed with a retryable error.
type ExhaustedError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op until it succeeds, a terminal error occurs, attempts run out, or
// ctx is done. The value from the last call is always returned so callers can
// keep partial data alongside the error. attempt is 1-based.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	p = p.withDefaults()
	log := p.Logger.With(zap.String("operation", p.Name))

	start := time.Now()
	attempt := 0
	var last T
	var terminal bool

	wrapped := func() (T, error) {
		attempt++
		res, err := op(ctx, attempt)
		last = res
		if err == nil {
			if attempt > 1 {
				log.Info("retry succeeded", zap.Int("attempt", attempt), zap.Duration("elapsed", time.Since(start)))
			}
			return res, nil
		}
		if !p.Retryable(err) {
			terminal = true
			log.Warn("non-retryable error", zap.Int("attempt", attempt), zap.Error(err))
			return res, backoff.Permanent(err)
		}
		log.Warn("attempt failed", zap.Int("attempt", attempt), zap.Int("max_attempts", p.MaxAttempts), zap.Error(err))
		return res, err
	}

	notify := func(err error, next time.Duration) {
		log.Info("retrying", zap.Int("next_attempt", attempt+1), zap.Duration("delay", next))
	}

	res, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(newBackOff(p.BaseDelay)),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return res, nil
	}
	if terminal || ctx.Err() != nil {
		return last, err
	}
	log.Error("retries exhausted", zap.Int("attempts", attempt), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	return last, &ExhaustedError{Name: p.Name, Attempts: attempt, Err: err}
}

// Delay reports the wait before the given 1-based retry attempt.
func Delay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base * time.Duration(1<<attempt)
}
