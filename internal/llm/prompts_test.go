package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schemaProbe struct {
	Items []struct {
		Name   string `json:"name" jsonschema_description:"Exact name from the text"`
		Rarity string `json:"rarity" jsonschema:"enum=common,enum=rare"`
	} `json:"items"`
}

func TestSchemaFor(t *testing.T) {
	raw := SchemaFor[schemaProbe]()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Equal(t, "object", m["type"])
	props := m["properties"].(map[string]any)
	assert.Contains(t, props, "items")
	assert.Contains(t, raw, "Exact name from the text")
	assert.Contains(t, raw, `"rare"`)
}

func TestJSONContract(t *testing.T) {
	out := JSONContract("factions", "{}")
	assert.Contains(t, out, `"factions" key`)
	assert.Contains(t, out, `{"factions": []}`)
	assert.Contains(t, out, "RESPONSE SCHEMA:\n{}")
}
