package llm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// AgentCategory groups agents by how many output tokens they need.
type AgentCategory string

const (
	// CategoryReasoning covers creative agents whose models spend hidden
	// reasoning tokens before emitting content.
	CategoryReasoning AgentCategory = "reasoning-heavy"
	// CategoryUtility covers classifiers and small structured responses.
	CategoryUtility AgentCategory = "utility"
	// CategoryDefault covers everything else.
	CategoryDefault AgentCategory = "default"
)

// DefaultContextLimit is used for models not in the context table.
const DefaultContextLimit = 128000

var reasoningAgents = map[string]bool{
	"story":               true,
	"storygenerator":      true,
	"narrative":           true,
	"scene":               true,
	"scenewriter":         true,
	"chapter":             true,
	"continuation":        true,
	"storycontinuation":   true,
	"dialogue":            true,
	"vad":                 true,
	"placeholder":         true,
	"scaffold":            true,
	"expansion":           true,
	"picturebook":         true,
	"character":           true,
	"characterextraction": true,
	"world":               true,
	"worldbuilding":       true,
	"lore":                true,
}

var utilityAgents = map[string]bool{
	"classifier":       true,
	"genreclassifier":  true,
	"intent":           true,
	"intentclassifier": true,
	"moderation":       true,
	"qa":               true,
	"intensityqa":      true,
	"validator":        true,
	"title":            true,
	"titlegenerator":   true,
	"summary":          true,
	"summarizer":       true,
	"sfx":              true,
	"soundeffect":      true,
	"voicematch":       true,
	"choice":           true,
	"choicegenerator":  true,
}

// EstimateTokens approximates token count at four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// normalizeAgentName lowercases, strips separators and a trailing "agent".
func normalizeAgentName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("_", "", "-", "", " ", "", ".", "").Replace(n)
	if n != "agent" {
		n = strings.TrimSuffix(n, "agent")
	}
	return n
}

// ClassifyAgent maps an agent name onto a budget category.
func ClassifyAgent(name string) AgentCategory {
	n := normalizeAgentName(name)
	switch {
	case reasoningAgents[n]:
		return CategoryReasoning
	case utilityAgents[n]:
		return CategoryUtility
	default:
		return CategoryDefault
	}
}

// CalculateBudget returns the max output tokens to request. Reasoning agents
// are over-provisioned so hidden reasoning cannot starve visible output;
// utility agents are capped for cost control.
func CalculateBudget(requested int, category AgentCategory) int {
	if requested < 0 {
		requested = 0
	}
	switch category {
	case CategoryReasoning:
		return max(requested+20000, 28000)
	case CategoryUtility:
		return min(requested+2000, 8000)
	default:
		return max(requested+8000, 12000)
	}
}

// UtilizationLevel is the severity of a context-window check.
type UtilizationLevel string

const (
	UtilizationOK       UtilizationLevel = "ok"
	UtilizationInfo     UtilizationLevel = "info"
	UtilizationWarning  UtilizationLevel = "warning"
	UtilizationExceeded UtilizationLevel = "exceeded"
)

// Utilization reports how much of a context window a call will use.
type Utilization struct {
	InputTokens  int
	OutputTokens int
	ContextLimit int
	Percent      float64
	Level        UtilizationLevel
	Message      string
}

// Valid is false only when the combined tokens exceed the limit.
func (u Utilization) Valid() bool { return u.Level != UtilizationExceeded }

// ValidateUtilization checks input+output against contextLimit. It logs at a
// level matching the result and returns an error only when the limit is
// exceeded.
func ValidateUtilization(logger *zap.Logger, input, output, contextLimit int) (Utilization, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if contextLimit <= 0 {
		contextLimit = DefaultContextLimit
	}
	total := input + output
	u := Utilization{
		InputTokens:  input,
		OutputTokens: output,
		ContextLimit: contextLimit,
		Percent:      float64(total) / float64(contextLimit) * 100,
	}
	fields := []zap.Field{
		zap.Int("input_tokens", input),
		zap.Int("output_tokens", output),
		zap.Int("context_limit", contextLimit),
		zap.Float64("utilization_pct", u.Percent),
	}

	switch {
	case total > contextLimit:
		u.Level = UtilizationExceeded
		u.Message = fmt.Sprintf("token usage %d exceeds context limit %d", total, contextLimit)
		logger.Error("context limit exceeded", fields...)
		return u, fmt.Errorf("%w: %s", ErrContextExceeded, u.Message)
	case u.Percent >= 80:
		u.Level = UtilizationWarning
		u.Message = fmt.Sprintf("high context utilization %.1f%%", u.Percent)
		logger.Warn("high context utilization", fields...)
	case u.Percent >= 50:
		u.Level = UtilizationInfo
		u.Message = fmt.Sprintf("moderate context utilization %.1f%%", u.Percent)
		logger.Info("moderate context utilization", fields...)
	default:
		u.Level = UtilizationOK
	}
	return u, nil
}

// TokenParamName is the request field that carries the output budget.
type TokenParamName string

const (
	ParamMaxTokens           TokenParamName = "max_tokens"
	ParamMaxCompletionTokens TokenParamName = "max_completion_tokens"
)

var reasoningModelPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// IsReasoningModel reports whether model belongs to a family that bills
// hidden reasoning tokens and rejects temperature.
func IsReasoningModel(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	for _, p := range reasoningModelPrefixes {
		if m == p || strings.HasPrefix(m, p+"-") || strings.HasPrefix(m, p+".") {
			return true
		}
	}
	return false
}

// TokenParam picks max_completion_tokens for reasoning families and
// max_tokens for everything else.
func TokenParam(model string) TokenParamName {
	if IsReasoningModel(model) {
		return ParamMaxCompletionTokens
	}
	return ParamMaxTokens
}

// contextLimits is matched by longest prefix.
var contextLimits = []struct {
	prefix string
	limit  int
}{
	{"gpt-4.1", 1047576},
	{"gpt-5", 400000},
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4", 8192},
	{"gpt-3.5-turbo", 16385},
	{"o1-mini", 128000},
	{"o1", 200000},
	{"o3", 200000},
	{"o4", 200000},
	{"llama-3.3-70b", 65536},
	{"llama-3.2-3b", 131072},
	{"venice-uncensored", 32768},
	{"mistral-31-24b", 131072},
	{"qwen-2.5", 32768},
}

// ContextLimit returns the model's context window in tokens.
func ContextLimit(model string) int {
	m := strings.ToLower(strings.TrimSpace(model))
	best, bestLen := DefaultContextLimit, 0
	for _, c := range contextLimits {
		if strings.HasPrefix(m, c.prefix) && len(c.prefix) > bestLen {
			best, bestLen = c.limit, len(c.prefix)
		}
	}
	return best
}
