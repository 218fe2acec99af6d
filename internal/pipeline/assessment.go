package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const assessmentApology = "I'm sorry, I'm having trouble understanding requests right now. Could you try again in a moment?"

// Assess classifies the question into one of the three routes. A model
// failure degrades to a direct apology rather than an error; the
// deterministic guard override runs last and beats a direct verdict.
func (p *Pipeline) Assess(ctx context.Context, pctx *ProcessingContext) *AssessmentResult {
	pctx.Phase = PhaseAssessment

	result, ok := p.cache.Get(pctx.Question)
	if !ok {
		raw, err := p.generate(ctx, p.buildAssessmentPrompt(pctx))
		if err != nil {
			p.logger.Warn().Err(err).Str("request", pctx.RequestID).Msg("assessment call failed")
			result = &AssessmentResult{Kind: RouteDirect, DirectAnswer: assessmentApology}
		} else {
			result = p.parseAssessment(raw)
			p.cache.Set(pctx.Question, result)
		}
	}

	if result.Kind == RouteDirect {
		if reason, forced := guardOverride(pctx.Question); forced {
			result = &AssessmentResult{Kind: RouteCapabilityGuard, GuardReason: reason}
		}
	}

	pctx.Assessment = result
	return result
}

func (p *Pipeline) buildAssessmentPrompt(pctx *ProcessingContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the routing layer for %s, a personal assistant.\n", p.persona.Name)
	fmt.Fprintf(&b, "Current date and time: %s\n", p.now().Format("Monday, January 2, 2006 15:04 MST"))
	if p.persona.Location != "" {
		fmt.Fprintf(&b, "User location: %s\n", p.persona.Location)
	}

	b.WriteString("\nAvailable capabilities:\n")
	catalog := p.registry.Catalog()
	for _, category := range sortedKeys(catalog) {
		fmt.Fprintf(&b, "%s:\n", category)
		for _, def := range catalog[category] {
			fmt.Fprintf(&b, "  - %s: %s\n", def.Name, def.Description)
		}
	}

	b.WriteString("\n")
	writeConversation(&b, pctx.Window)

	fmt.Fprintf(&b, "\nQuestion: %s\n\n", pctx.Question)
	b.WriteString("Classify the question. Reply with exactly one of:\n")
	b.WriteString("- \"CAPABILITY_GUARD: <IDENTITY|CAPABILITIES|TEMPORAL|SECURITY|MIXED>\" when the question asks who you are, what you can do, the current time or date, or digs into how the system works.\n")
	b.WriteString("- \"TOOLS_NEEDED: <capability names>\" plus one sentence on what is needed, when answering requires live or user-specific data.\n")
	b.WriteString("- Otherwise, answer the question directly in plain text.\n")
	return b.String()
}

const (
	guardMarker = "CAPABILITY_GUARD:"
	toolsMarker = "TOOLS_NEEDED"
)

// parseAssessment maps raw model output onto the route sum type. The
// guard marker is checked first, then the tools marker; anything else
// is a direct answer.
func (p *Pipeline) parseAssessment(raw string) *AssessmentResult {
	if idx := indexFold(raw, guardMarker); idx >= 0 {
		rest := raw[idx+len(guardMarker):]
		return &AssessmentResult{
			Kind:        RouteCapabilityGuard,
			GuardReason: parseGuardReason(firstWord(rest)),
		}
	}

	if idx := indexFold(raw, toolsMarker); idx >= 0 {
		rest := strings.TrimSpace(strings.TrimLeft(raw[idx+len(toolsMarker):], ": \t"))
		return &AssessmentResult{
			Kind:        RouteToolsNeeded,
			ToolsNeeded: p.mentionedTools(rest),
			ToolQuery:   rest,
		}
	}

	return &AssessmentResult{Kind: RouteDirect, DirectAnswer: strings.TrimSpace(raw)}
}

// indexFold returns the byte offset of the first case-insensitive
// occurrence of substr in s, or -1. Unlike indexing into ToUpper(s),
// the offset is always valid for slicing s: uppercasing can change the
// byte length of non-ASCII runes.
func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// mentionedTools returns the registered capability names that appear in
// the text, in catalog order.
func (p *Pipeline) mentionedTools(text string) []string {
	lower := strings.ToLower(text)
	var names []string
	for _, category := range sortedKeys(p.registry.Catalog()) {
		for _, def := range p.registry.Catalog()[category] {
			if strings.Contains(lower, def.Name) {
				names = append(names, def.Name)
			}
		}
	}
	return names
}

func parseGuardReason(token string) GuardReason {
	switch strings.ToUpper(token) {
	case "IDENTITY":
		return GuardIdentity
	case "CAPABILITIES":
		return GuardCapabilities
	case "TEMPORAL":
		return GuardTemporal
	case "SECURITY":
		return GuardSecurity
	default:
		return GuardMixed
	}
}

func firstWord(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '.' || r == ',' || r == ':'
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

var (
	identityPhrases = []string{
		"your name", "who are you", "what are you", "who made you",
		"who created you", "are you a robot", "are you an ai",
	}
	temporalPhrases = []string{
		"what time is it", "today's date", "what day is it",
		"current time", "what is the date",
	}
	capabilityPhrases = []string{
		"what can you do", "what are your capabilities", "what do you do",
	}
)

// guardOverride is the deterministic safety net over the model's own
// classification. It only upgrades direct verdicts.
func guardOverride(question string) (GuardReason, bool) {
	q := strings.ToLower(question)
	for _, phrase := range identityPhrases {
		if strings.Contains(q, phrase) {
			return GuardIdentity, true
		}
	}
	for _, phrase := range temporalPhrases {
		if strings.Contains(q, phrase) {
			return GuardTemporal, true
		}
	}
	for _, phrase := range capabilityPhrases {
		if strings.Contains(q, phrase) {
			return GuardCapabilities, true
		}
	}
	return "", false
}

// generate calls the model with a single retry.
func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	result, err := p.client.GenerateSync(ctx, prompt)
	if err != nil {
		result, err = p.client.GenerateSync(ctx, prompt)
		if err != nil {
			return "", err
		}
	}
	return result.Response, nil
}

func (p *Pipeline) now() time.Time {
	if p.clock != nil {
		return p.clock()
	}
	return time.Now()
}
