package extraction

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// number accepts 80, 80.5 or "80". Set is false when the field was absent,
// null or unparsable.
type number struct {
	Value float64
	Set   bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	*n = number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	} else {
		s = string(b)
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*n = number{Value: v, Set: true}
	}
	return nil
}

func (number) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: "0-100"}
}

// flag accepts true, "true", "yes" and 1. Set is false when absent.
type flag struct {
	Value bool
	Set   bool
}

func (f *flag) UnmarshalJSON(b []byte) error {
	*f = flag{}
	var s string
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return nil
	case b[0] == '"':
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	default:
		s = string(b)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		*f = flag{Value: true, Set: true}
	case "false", "no", "0":
		*f = flag{Value: false, Set: true}
	}
	return nil
}

func (flag) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean"}
}

// strs accepts ["a","b"] or "a, b".
type strs []string

func (s *strs) UnmarshalJSON(b []byte) error {
	*s = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return nil
		}
		for _, part := range strings.Split(one, ",") {
			if p := strings.TrimSpace(part); p != "" {
				*s = append(*s, p)
			}
		}
		return nil
	}
	var many []any
	if err := json.Unmarshal(b, &many); err != nil {
		return nil
	}
	for _, v := range many {
		if str, ok := v.(string); ok {
			*s = append(*s, str)
		}
	}
	return nil
}

func (strs) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}}
}
