package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// RecoveryStage records which decoding stage produced the result.
type RecoveryStage string

const (
	StageStrict   RecoveryStage = "strict"
	StageRepaired RecoveryStage = "truncation_repair"
	StageSalvaged RecoveryStage = "salvage"
	StageEmpty    RecoveryStage = "empty"
)

// salvageKeyPattern marks an object as an entity worth salvaging.
var salvageKeyPattern = regexp.MustCompile(`"(?:name|title)"\s*:`)

// DecodeArray extracts the array stored under key from a possibly truncated
// LLM response. It never fails: the worst case is an empty slice with
// StageEmpty.
//
// Stages, in order:
//  1. strict parse of the whole object (or of the first {...} span)
//  2. truncation repair: keep every fully-closed array element and close the array
//  3. salvage: every balanced {...} chunk that parses and has a "name" or "title" key
func DecodeArray(raw, key string) ([]json.RawMessage, RecoveryStage) {
	text := stripCodeFences(raw)
	if text == "" {
		return []json.RawMessage{}, StageEmpty
	}

	if items, ok := decodeStrict(text, key); ok {
		return items, StageStrict
	}

	if items, ok := repairTruncated(text, key); ok {
		return items, StageRepaired
	}

	if items := salvageObjects(text); len(items) > 0 {
		return items, StageSalvaged
	}

	return []json.RawMessage{}, StageEmpty
}

// RecoverArray decodes the array under key into T. Elements that do not fit
// T are skipped and logged.
func RecoverArray[T any](logger *zap.Logger, raw, key string) ([]T, RecoveryStage) {
	if logger == nil {
		logger = zap.NewNop()
	}
	items, stage := DecodeArray(raw, key)
	switch stage {
	case StageRepaired, StageSalvaged:
		logger.Warn("recovered truncated json", zap.String("key", key), zap.String("stage", string(stage)), zap.Int("elements", len(items)))
	case StageEmpty:
		logger.Warn("no json recovered", zap.String("key", key), zap.Int("response_len", len(raw)))
	}

	out := make([]T, 0, len(items))
	for i, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			logger.Warn("skipping undecodable element", zap.String("key", key), zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out, stage
}

func stripCodeFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

func decodeStrict(text, key string) ([]json.RawMessage, bool) {
	candidates := []string{text}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if span := text[start : end+1]; span != text {
			candidates = append(candidates, span)
		}
	}
	for _, c := range candidates {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(c), &obj); err != nil {
			continue
		}
		field, ok := obj[key]
		if !ok {
			return []json.RawMessage{}, true
		}
		var items []json.RawMessage
		if err := json.Unmarshal(field, &items); err != nil {
			return []json.RawMessage{}, true
		}
		if items == nil {
			items = []json.RawMessage{}
		}
		return items, true
	}
	return nil, false
}

// repairTruncated locates "key" then its '[' and scans forward with
// string-aware bracket tracking, remembering the last element that closed at
// array depth.
func repairTruncated(text, key string) ([]json.RawMessage, bool) {
	keyIdx := strings.Index(text, `"`+key+`"`)
	if keyIdx < 0 {
		return nil, false
	}
	rel := strings.IndexByte(text[keyIdx:], '[')
	if rel < 0 {
		return nil, false
	}
	start := keyIdx + rel

	depth := 0
	inString, escaped := false, false
	lastClose := -1

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 1 {
				lastClose = i
			}
			if depth == 0 {
				// Array closed cleanly even though the outer object did not.
				var items []json.RawMessage
				if err := json.Unmarshal([]byte(text[start:i+1]), &items); err == nil {
					return items, true
				}
				return nil, false
			}
		}
	}

	if lastClose < 0 {
		return nil, false
	}

	candidate := text[start:lastClose+1] + closers(text[start:lastClose+1])
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &items); err != nil || len(items) == 0 {
		return nil, false
	}
	return items, true
}

// closers computes the brackets needed to balance s, innermost first.
func closers(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// salvageObjects collects balanced, parseable objects that look like
// entities. Objects nested inside a salvaged object are not reported again.
func salvageObjects(text string) []json.RawMessage {
	var out []json.RawMessage
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := balancedEnd(text, i)
		if end < 0 {
			continue
		}
		chunk := text[i : end+1]
		if !salvageKeyPattern.MatchString(chunk) || !json.Valid([]byte(chunk)) {
			continue
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(chunk), &probe); err != nil {
			continue
		}
		if _, hasName := probe["name"]; !hasName {
			if _, hasTitle := probe["title"]; !hasTitle {
				continue
			}
		}
		out = append(out, json.RawMessage(chunk))
		i = end
	}
	return out
}

// balancedEnd returns the index of the '}' closing the object at start, or -1.
func balancedEnd(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				if c == '}' {
					return i
				}
				return -1
			}
			if depth < 0 {
				return -1
			}
		}
	}
	return -1
}
