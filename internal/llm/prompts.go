// Package llm provides the text-generation layer for story orchestration:
// OpenAI-compatible chat clients guarded by a circuit breaker, per-agent
// token budgeting, truncation-tolerant JSON decoding and source chunking.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects T into a JSON schema string for embedding in prompts.
// Field descriptions come from jsonschema_description struct tags.
func SchemaFor[T any]() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	schema.Version = ""
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		// Reflection over static types only fails on programmer error.
		panic(fmt.Sprintf("llm: schema reflection failed: %v", err))
	}
	return string(b)
}

// JSONContract renders the strict output block appended to every JSON-mode
// system prompt. key is the single top-level array the response must carry.
func JSONContract(key, schema string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.\n")
	fmt.Fprintf(&b, "Your response MUST start with { and end with }\n")
	fmt.Fprintf(&b, "Your response MUST have a %q key with an array value\n", key)
	fmt.Fprintf(&b, "If nothing qualifies, return {%q: []}\n\n", key)
	b.WriteString("VALIDATION (STRICT):\n")
	b.WriteString("1. No null values; use empty strings or empty arrays\n")
	b.WriteString("2. No trailing commas\n")
	b.WriteString("3. Valid JSON syntax\n")
	b.WriteString("4. Close every array and object\n\n")
	b.WriteString("RESPONSE SCHEMA:\n")
	b.WriteString(schema)
	b.WriteString("\n")
	return b.String()
}
