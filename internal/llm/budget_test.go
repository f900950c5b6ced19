package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassifyAgent(t *testing.T) {
	tests := []struct {
		name string
		want AgentCategory
	}{
		{"StoryGeneratorAgent", CategoryReasoning},
		{"story-generator", CategoryReasoning},
		{"character_extraction_agent", CategoryReasoning},
		{"Genre Classifier", CategoryUtility},
		{"intensity-qa", CategoryUtility},
		{"ItemExtractor", CategoryDefault},
		{"", CategoryDefault},
		{"agent", CategoryDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyAgent(tt.name))
		})
	}
}

func TestCalculateBudget(t *testing.T) {
	assert.Equal(t, 28000, CalculateBudget(4000, CategoryReasoning))
	assert.Equal(t, 30000, CalculateBudget(10000, CategoryReasoning))
	assert.Equal(t, 3000, CalculateBudget(1000, CategoryUtility))
	assert.Equal(t, 8000, CalculateBudget(7000, CategoryUtility))
	assert.Equal(t, 12000, CalculateBudget(2000, CategoryDefault))
	assert.Equal(t, 16000, CalculateBudget(8000, CategoryDefault))
	assert.Equal(t, 12000, CalculateBudget(-5, CategoryDefault))
}

func TestValidateUtilization(t *testing.T) {
	u, err := ValidateUtilization(zap.NewNop(), 1000, 1000, 10000)
	require.NoError(t, err)
	assert.Equal(t, UtilizationOK, u.Level)

	u, err = ValidateUtilization(nil, 3000, 2000, 10000)
	require.NoError(t, err)
	assert.Equal(t, UtilizationInfo, u.Level)

	u, err = ValidateUtilization(nil, 6000, 2000, 10000)
	require.NoError(t, err)
	assert.Equal(t, UtilizationWarning, u.Level)
	assert.True(t, u.Valid())

	u, err = ValidateUtilization(nil, 9000, 2000, 10000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContextExceeded))
	assert.False(t, u.Valid())
}

func TestTokenParam(t *testing.T) {
	assert.Equal(t, ParamMaxCompletionTokens, TokenParam("o1-preview"))
	assert.Equal(t, ParamMaxCompletionTokens, TokenParam("o3-mini"))
	assert.Equal(t, ParamMaxCompletionTokens, TokenParam("gpt-5"))
	assert.Equal(t, ParamMaxCompletionTokens, TokenParam("openai/o4-mini"))
	assert.Equal(t, ParamMaxTokens, TokenParam("gpt-4o-mini"))
	assert.Equal(t, ParamMaxTokens, TokenParam("llama-3.3-70b"))
	assert.Equal(t, ParamMaxTokens, TokenParam("o1x"))
}

func TestContextLimit(t *testing.T) {
	assert.Equal(t, 128000, ContextLimit("gpt-4o-mini"))
	assert.Equal(t, 8192, ContextLimit("gpt-4"))
	assert.Equal(t, 1047576, ContextLimit("gpt-4.1-mini"))
	assert.Equal(t, 128000, ContextLimit("o1-mini"))
	assert.Equal(t, DefaultContextLimit, ContextLimit("some-new-model"))
}

func TestTokenCounter(t *testing.T) {
	c := DefaultTokenCounter()
	require.NotNil(t, c)
	assert.Equal(t, 0, c.Count(""))
	n := c.Count(strings.Repeat("hello world ", 50))
	assert.Greater(t, n, 50)
	assert.Less(t, n, 400)

	var nilCounter *TokenCounter
	assert.Equal(t, 2, nilCounter.Count("abcdefg"))
}
