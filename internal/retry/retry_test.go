package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct{ code int }

func (s statusErr) Error() string       { return fmt.Sprintf("status %d", s.code) }
func (s statusErr) HTTPStatusCode() int { return s.code }

func fastPolicy() Policy {
	return Policy{Name: "test", MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(), func(ctx context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("503 service unavailable")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_TerminalErrorsAbortImmediately(t *testing.T) {
	cases := []error{
		errors.New("Your request was rejected as a result of our safety system: content policy"),
		errors.New("Invalid API key provided"),
		errors.New("authentication failed"),
		errors.New("invalid input: prompt empty"),
		statusErr{code: 401},
		statusErr{code: 400},
		Permanent(errors.New("do not retry")),
	}
	for _, tc := range cases {
		t.Run(tc.Error(), func(t *testing.T) {
			calls := 0
			_, err := Do(context.Background(), fastPolicy(), func(ctx context.Context, attempt int) (int, error) {
				calls++
				return 0, tc
			})
			require.Error(t, err)
			assert.Equal(t, 1, calls)
			var exhausted *ExhaustedError
			assert.False(t, errors.As(err, &exhausted))
		})
	}
}

func TestDo_ExhaustionKeepsPartialResult(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(), func(ctx context.Context, attempt int) ([]string, error) {
		calls++
		return []string{"partial"}, statusErr{code: 500}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"partial"}, got)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	var sc statusErr
	assert.True(t, errors.As(err, &sc))
}

func TestDo_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		cancel()
		return 0, errors.New("timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("rate limit exceeded")))
	assert.True(t, IsRetryable(statusErr{code: 429}))
	assert.True(t, IsRetryable(statusErr{code: 502}))
	assert.False(t, IsRetryable(statusErr{code: 403}))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", Permanent(errors.New("x")))))
}

func TestIsContentPolicy(t *testing.T) {
	assert.True(t, IsContentPolicy(errors.New("400 content_policy_violation")))
	assert.False(t, IsContentPolicy(errors.New("timeout")))
}

func TestDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, Delay(time.Second, 1))
	assert.Equal(t, 4*time.Second, Delay(time.Second, 2))
	assert.Equal(t, 8*time.Second, Delay(time.Second, 3))
	assert.Equal(t, time.Duration(0), Delay(time.Second, 0))
}
