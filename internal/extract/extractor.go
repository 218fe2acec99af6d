// Package extract normalizes the many textual encodings a model may use
// to request capability invocations into one structured list.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/aria-assistant/aria/internal/models"
)

// Extraction is the normalized result: the message text plus zero or
// more invocation requests.
type Extraction struct {
	Text        string
	Invocations []models.ToolInvocation
	// Strategy names which parser recognized the invocations; empty
	// when none did.
	Strategy string
}

// strategy is one named attempt at recognizing invocation syntax.
// A nil or empty return means "not this format".
type strategy struct {
	name     string
	tryParse func(raw string) []models.ToolInvocation
}

// Extractor runs parser strategies in fixed priority order. The first
// strategy yielding at least one valid invocation wins; if all fail the
// original text is returned unchanged with zero invocations. It never
// returns an error: malformed output is simply unrecognized.
type Extractor struct {
	strategies []strategy
}

// NewExtractor creates the extractor with the default strategy chain.
func NewExtractor() *Extractor {
	return &Extractor{
		strategies: []strategy{
			{"fenced_json_array", parseFencedJSONArray},
			{"inline_json_array", parseInlineJSONArray},
			{"tool_token", parseToolToken},
			{"xml_tool_call", parseXMLToolCall},
			{"fenced_json_object", parseFencedJSONObject},
		},
	}
}

// Extract normalizes one assistant message. Native structured calls
// (from the chat API's own tool-call field) take priority over every
// textual convention.
func (e *Extractor) Extract(content string, native []models.ToolInvocation) Extraction {
	if len(native) > 0 {
		return Extraction{
			Text:        content,
			Invocations: assignIDs(native),
			Strategy:    "native",
		}
	}

	for _, s := range e.strategies {
		if invocations := s.tryParse(content); len(invocations) > 0 {
			return Extraction{
				Text:        content,
				Invocations: assignIDs(invocations),
				Strategy:    s.name,
			}
		}
	}

	return Extraction{Text: content}
}

// assignIDs fills in generated identifiers where the source format
// supplied none.
func assignIDs(invocations []models.ToolInvocation) []models.ToolInvocation {
	out := make([]models.ToolInvocation, len(invocations))
	for i, inv := range invocations {
		if inv.ID == "" {
			inv.ID = "call-" + uuid.NewString()
		}
		if inv.Arguments == nil {
			inv.Arguments = map[string]interface{}{}
		}
		out[i] = inv
	}
	return out
}

// rawInvocation tolerates both name and tool_name keys, and both
// arguments and parameters keys.
type rawInvocation struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	ToolName   string                 `json:"tool_name"`
	Arguments  map[string]interface{} `json:"arguments"`
	Parameters map[string]interface{} `json:"parameters"`
}

func (r rawInvocation) toInvocation() (models.ToolInvocation, bool) {
	name := r.Name
	if name == "" {
		name = r.ToolName
	}
	if name == "" {
		return models.ToolInvocation{}, false
	}
	args := r.Arguments
	if args == nil {
		args = r.Parameters
	}
	return models.ToolInvocation{ID: r.ID, Name: name, Arguments: args}, true
}

func convertRaw(raws []rawInvocation) []models.ToolInvocation {
	out := make([]models.ToolInvocation, 0, len(raws))
	for _, r := range raws {
		if inv, ok := r.toInvocation(); ok {
			out = append(out, inv)
		}
	}
	return out
}

var (
	fencedArrayRe  = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")
	fencedObjectRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	toolTokenRe    = regexp.MustCompile(`\[TOOL:([\w.-]+):`)
	xmlToolCallRe  = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)
)

// parseFencedJSONArray recognizes a fenced code block holding a JSON
// array of invocation objects.
func parseFencedJSONArray(raw string) []models.ToolInvocation {
	for _, match := range fencedArrayRe.FindAllStringSubmatch(raw, -1) {
		var raws []rawInvocation
		if err := json.Unmarshal([]byte(match[1]), &raws); err != nil {
			continue
		}
		if out := convertRaw(raws); len(out) > 0 {
			return out
		}
	}
	return nil
}

// parseInlineJSONArray recognizes a bare JSON array literal embedded in
// prose. A decoder is started at each '[' so trailing prose after the
// array does not break the parse.
func parseInlineJSONArray(raw string) []models.ToolInvocation {
	for idx := 0; idx < len(raw); idx++ {
		if raw[idx] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(raw[idx:]))
		var raws []rawInvocation
		if err := dec.Decode(&raws); err != nil {
			continue
		}
		if out := convertRaw(raws); len(out) > 0 {
			return out
		}
	}
	return nil
}

// parseToolToken recognizes the bracket convention [TOOL:name:{json}].
func parseToolToken(raw string) []models.ToolInvocation {
	var out []models.ToolInvocation

	for _, loc := range toolTokenRe.FindAllStringSubmatchIndex(raw, -1) {
		name := raw[loc[2]:loc[3]]
		body, ok := balancedJSONObject(raw[loc[1]:])
		if !ok {
			continue
		}

		var args map[string]interface{}
		if err := json.Unmarshal([]byte(body), &args); err != nil {
			continue
		}
		out = append(out, models.ToolInvocation{Name: name, Arguments: args})
	}
	return out
}

// balancedJSONObject returns the brace-balanced object at the start of s.
func balancedJSONObject(s string) (string, bool) {
	if len(s) == 0 || s[0] != '{' {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// parseXMLToolCall recognizes an XML-like <tool_call> wrapper holding a
// JSON object.
func parseXMLToolCall(raw string) []models.ToolInvocation {
	var out []models.ToolInvocation
	for _, match := range xmlToolCallRe.FindAllStringSubmatch(raw, -1) {
		var r rawInvocation
		if err := json.Unmarshal([]byte(match[1]), &r); err != nil {
			continue
		}
		if inv, ok := r.toInvocation(); ok {
			out = append(out, inv)
		}
	}
	return out
}

// parseFencedJSONObject recognizes a fenced code block holding a single
// invocation object with a name or tool_name key.
func parseFencedJSONObject(raw string) []models.ToolInvocation {
	for _, match := range fencedObjectRe.FindAllStringSubmatch(raw, -1) {
		var r rawInvocation
		if err := json.Unmarshal([]byte(match[1]), &r); err != nil {
			continue
		}
		if inv, ok := r.toInvocation(); ok {
			return []models.ToolInvocation{inv}
		}
	}
	return nil
}
