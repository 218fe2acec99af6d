package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-assistant/aria/internal/models"
)

func TestNativeInvocationsWin(t *testing.T) {
	e := NewExtractor()

	// Content also carries a textual encoding; the native field wins.
	content := "```json\n[{\"name\": \"web_search\", \"arguments\": {\"query\": \"go\"}}]\n```"
	native := []models.ToolInvocation{{Name: "get_weather", Arguments: map[string]interface{}{"location": "Oslo"}}}

	result := e.Extract(content, native)
	require.Len(t, result.Invocations, 1)
	assert.Equal(t, "get_weather", result.Invocations[0].Name)
	assert.Equal(t, "native", result.Strategy)
	assert.NotEmpty(t, result.Invocations[0].ID, "missing IDs get generated")
}

func TestFencedJSONArray(t *testing.T) {
	e := NewExtractor()
	raw := "I'll look that up.\n```json\n[{\"name\": \"web_search\", \"arguments\": {\"query\": \"tide tables\"}}]\n```\nOne moment."

	result := e.Extract(raw, nil)
	require.Len(t, result.Invocations, 1)
	assert.Equal(t, "web_search", result.Invocations[0].Name)
	assert.Equal(t, "tide tables", result.Invocations[0].Arguments["query"])
	assert.Equal(t, "fenced_json_array", result.Strategy)
	assert.Equal(t, raw, result.Text, "original text is preserved")
}

func TestInlineJSONArray(t *testing.T) {
	e := NewExtractor()
	raw := `Sure, calling tools: [{"tool_name": "get_weather", "parameters": {"location": "Porto"}}] right away.`

	result := e.Extract(raw, nil)
	require.Len(t, result.Invocations, 1)
	assert.Equal(t, "get_weather", result.Invocations[0].Name)
	assert.Equal(t, "Porto", result.Invocations[0].Arguments["location"])
	assert.Equal(t, "inline_json_array", result.Strategy)
}

func TestToolToken(t *testing.T) {
	e := NewExtractor()
	raw := `Let me check. [TOOL:personal_var:{"key": "my car", "value": "a {nested} value"}] done.`

	result := e.Extract(raw, nil)
	require.Len(t, result.Invocations, 1)
	assert.Equal(t, "personal_var", result.Invocations[0].Name)
	assert.Equal(t, "a {nested} value", result.Invocations[0].Arguments["value"])
	assert.Equal(t, "tool_token", result.Strategy)
}

func TestXMLToolCall(t *testing.T) {
	e := NewExtractor()
	raw := "<tool_call>\n{\"name\": \"current_datetime\", \"arguments\": {}}\n</tool_call>"

	result := e.Extract(raw, nil)
	require.Len(t, result.Invocations, 1)
	assert.Equal(t, "current_datetime", result.Invocations[0].Name)
	assert.Equal(t, "xml_tool_call", result.Strategy)
}

func TestFencedJSONObject(t *testing.T) {
	e := NewExtractor()
	raw := "```json\n{\"name\": \"x\", \"arguments\": {}}\n```"

	result := e.Extract(raw, nil)
	require.Len(t, result.Invocations, 1)
	assert.Equal(t, "x", result.Invocations[0].Name)
	assert.Equal(t, "fenced_json_object", result.Strategy)
}

func TestNoRecognizablePattern(t *testing.T) {
	e := NewExtractor()
	raw := "The capital of Portugal is Lisbon. [citation needed] {obviously}"

	result := e.Extract(raw, nil)
	assert.Empty(t, result.Invocations)
	assert.Equal(t, raw, result.Text)
	assert.Empty(t, result.Strategy)
}

func TestMalformedJSONNeverErrors(t *testing.T) {
	e := NewExtractor()
	cases := []string{
		"```json\n[{\"name\": \"x\", \n```",          // truncated fence
		`[TOOL:web_search:{"query": "unclosed]`,      // unbalanced braces
		"<tool_call>{not json}</tool_call>",          // invalid object
		"```json\n{\"arguments\": {\"a\": 1}}\n```",  // object without a name
		`[{"no_name_key": true}]`,                    // array without names
	}

	for _, raw := range cases {
		result := e.Extract(raw, nil)
		assert.Empty(t, result.Invocations, "input: %s", raw)
		assert.Equal(t, raw, result.Text)
	}
}

func TestPriorityOrder(t *testing.T) {
	e := NewExtractor()
	// Both a fenced array and a TOOL token present: fenced array wins.
	raw := "```json\n[{\"name\": \"a\", \"arguments\": {}}]\n```\n[TOOL:b:{}]"

	result := e.Extract(raw, nil)
	require.Len(t, result.Invocations, 1)
	assert.Equal(t, "a", result.Invocations[0].Name)
	assert.Equal(t, "fenced_json_array", result.Strategy)
}

func TestMultipleInvocationsInOneArray(t *testing.T) {
	e := NewExtractor()
	raw := `[{"name": "get_weather", "arguments": {"location": "Faro"}}, {"name": "web_search", "arguments": {"query": "beaches"}}]`

	result := e.Extract(raw, nil)
	require.Len(t, result.Invocations, 2)
	assert.Equal(t, "get_weather", result.Invocations[0].Name)
	assert.Equal(t, "web_search", result.Invocations[1].Name)

	// Every invocation gets a distinct generated ID.
	assert.NotEqual(t, result.Invocations[0].ID, result.Invocations[1].ID)
}
