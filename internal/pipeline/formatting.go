package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aria-assistant/aria/internal/models"
)

// FormatResponse turns the route outcome into the candidate reply. The
// guard route answers from the standing instructions alone and never
// sees tool results; every other route gets a condensed account of what
// was attempted. A model failure degrades to the best text already in
// hand.
func (p *Pipeline) FormatResponse(ctx context.Context, pctx *ProcessingContext) string {
	pctx.Phase = PhaseFormatting

	var prompt string
	if pctx.Assessment.Kind == RouteCapabilityGuard {
		prompt = p.buildGuardPrompt(pctx)
	} else {
		prompt = p.buildAnswerPrompt(pctx)
	}

	raw, err := p.generate(ctx, prompt)
	if err != nil {
		p.logger.Warn().Err(err).Str("request", pctx.RequestID).Msg("formatting call failed")
		raw = p.formattingFallback(pctx)
	}

	pctx.Candidate = strings.TrimSpace(raw)
	return pctx.Candidate
}

func (p *Pipeline) buildGuardPrompt(pctx *ProcessingContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s. These rules define who you are:\n", p.persona.Name)
	for _, instruction := range p.persona.StandingInstructions {
		fmt.Fprintf(&b, "- %s\n", instruction)
	}

	fmt.Fprintf(&b, "\nThe question below touches on %s. Answer it yourself, from the rules above, without using any tools.\n", guardTopic(pctx.Assessment.GuardReason))
	fmt.Fprintf(&b, "Keep the answer short and end with: %s\n\n", p.persona.ClosingPhrase)
	fmt.Fprintf(&b, "Question: %s\n", pctx.Question)
	return b.String()
}

func guardTopic(reason GuardReason) string {
	switch reason {
	case GuardIdentity:
		return "your identity"
	case GuardCapabilities:
		return "what you can do"
	case GuardTemporal:
		return "the current time or date"
	case GuardSecurity:
		return "how you work internally"
	default:
		return "your identity and what you can do"
	}
}

func (p *Pipeline) buildAnswerPrompt(pctx *ProcessingContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a personal assistant.\n\n", p.persona.Name)
	writeConversation(&b, pctx.Window)
	fmt.Fprintf(&b, "\nQuestion: %s\n", pctx.Question)

	if pctx.Assessment.Kind == RouteDirect && pctx.Assessment.DirectAnswer != "" {
		fmt.Fprintf(&b, "\nDraft answer: %s\n", pctx.Assessment.DirectAnswer)
	}

	if len(pctx.ToolResults) > 0 {
		b.WriteString("\nWhat was attempted:\n")
		for _, result := range pctx.ToolResults {
			fmt.Fprintf(&b, "- %s: %s", result.ToolName, result.Status)
			if result.Status == models.InvocationError {
				fmt.Fprintf(&b, " (%s)", truncate(result.Message, 120))
			} else if result.Data != nil {
				fmt.Fprintf(&b, " %s", truncate(compactJSON(result.Data), 200))
			}
			b.WriteString("\n")
		}
		b.WriteString("Report failed capabilities honestly; do not invent their results.\n")
	}

	fmt.Fprintf(&b, "\nWrite the final reply: concise, under 50 words, warm, and ending with: %s\n", p.persona.ClosingPhrase)
	return b.String()
}

func compactJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func (p *Pipeline) formattingFallback(pctx *ProcessingContext) string {
	if pctx.Assessment.Kind == RouteDirect && pctx.Assessment.DirectAnswer != "" {
		return pctx.Assessment.DirectAnswer
	}
	return fmt.Sprintf("I'm sorry, I couldn't put an answer together just now. %s", p.persona.ClosingPhrase)
}
