package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/aria-assistant/aria/internal/models"
)

// sensitiveTriggers force the fixed safety refusal no matter what the
// model generated.
var sensitiveTriggers = []string{
	"credit card", "card number", "cvv", "password", "passphrase",
	"social security", "ssn", "bank account", "routing number", "pin code",
}

// modelNameTokens are inference-engine and model-family names that must
// never appear in a reply.
var modelNameTokens = []string{
	"qwen", "llama", "ollama", "mistral", "gemma", "deepseek",
	"chatgpt", "gpt-4", "gpt-3", "claude", "openai", "anthropic",
}

// QualityGate runs the fixed-order checks and returns the final
// response. Checks 1 through 4 are deterministic and short-circuit on
// the first hit; only the last, model-adjudicated check fails open.
func (p *Pipeline) QualityGate(ctx context.Context, pctx *ProcessingContext) *QualityResult {
	pctx.Phase = PhaseQualityGate

	result := p.runChecks(ctx, pctx)
	pctx.Quality = result
	return result
}

func (p *Pipeline) runChecks(ctx context.Context, pctx *ProcessingContext) *QualityResult {
	question := strings.ToLower(pctx.Question)
	candidate := pctx.Candidate
	lower := strings.ToLower(candidate)

	// 1. Safety.
	for _, trigger := range sensitiveTriggers {
		if strings.Contains(question, trigger) {
			return &QualityResult{
				FallbackKind: FallbackSafety,
				Response:     p.safetyRefusal(),
				Reasoning:    fmt.Sprintf("question contains sensitive trigger %q", trigger),
			}
		}
	}

	// 2. Identity leak.
	for _, token := range modelNameTokens {
		if strings.Contains(lower, token) {
			return &QualityResult{
				FallbackKind: FallbackIdentity,
				Response:     p.identityReaffirmation(),
				Reasoning:    fmt.Sprintf("response names the underlying model (%q)", token),
			}
		}
	}

	// 3. Completeness.
	if hasErrorResult(pctx.ToolResults) && claimsSuccess(lower) {
		return &QualityResult{
			FallbackKind: FallbackToolFailure,
			Response:     p.toolFailureResponse(),
			Reasoning:    "a capability failed but the response claims success",
		}
	}
	if pctx.Assessment.Kind == RouteDirect && len(strings.Fields(candidate)) < 3 {
		return &QualityResult{
			FallbackKind: FallbackRephrase,
			Response:     p.rephraseResponse(),
			Reasoning:    "direct answer implausibly short",
		}
	}

	// 4. Known edge cases.
	if pctx.Assessment.Kind == RouteCapabilityGuard {
		switch pctx.Assessment.GuardReason {
		case GuardMixed:
			if sentenceCount(candidate) < clauseCount(pctx.Question) {
				return &QualityResult{
					FallbackKind: FallbackIncomplete,
					Response:     p.incompleteResponse(),
					Reasoning:    "mixed question answered with fewer sentences than clauses",
				}
			}
		case GuardIdentity:
			if !strings.Contains(lower, strings.ToLower(p.persona.Name)) {
				return &QualityResult{
					FallbackKind: FallbackIdentity,
					Response:     p.identityReaffirmation(),
					Reasoning:    "identity answer omits the assistant name",
				}
			}
		case GuardCapabilities:
			if len(strings.Fields(candidate)) < 8 {
				return &QualityResult{
					FallbackKind: FallbackCapabilities,
					Response:     p.capabilitiesResponse(),
					Reasoning:    "capabilities answer too terse",
				}
			}
		}
	}

	// 5. Model-adjudicated review.
	return p.modelReview(ctx, pctx)
}

// modelReview asks the model to approve or correct the candidate. Any
// failure here defaults to approval; the deterministic checks already
// passed.
func (p *Pipeline) modelReview(ctx context.Context, pctx *ProcessingContext) *QualityResult {
	approved := &QualityResult{Approved: true, Response: pctx.Candidate, Reasoning: "approved"}

	raw, err := p.generate(ctx, p.buildReviewPrompt(pctx))
	if err != nil {
		p.logger.Debug().Err(err).Str("request", pctx.RequestID).Msg("review call failed, approving")
		return approved
	}

	idx := indexFold(raw, "FALLBACK:")
	if indexFold(raw, "APPROVED") >= 0 || idx < 0 {
		return approved
	}

	rest := raw[idx+len("FALLBACK:"):]
	kind := strings.ToLower(firstWord(rest))

	response := ""
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		response = strings.TrimSpace(rest[nl+1:])
	}
	if response == "" {
		response = p.fallbackResponse(kind)
	}

	return &QualityResult{
		FallbackKind: kind,
		Response:     response,
		Reasoning:    "model review requested fallback",
	}
}

func (p *Pipeline) buildReviewPrompt(pctx *ProcessingContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review this assistant reply before it is sent. The assistant is %s and must answer as itself, completely and honestly.\n\n", p.persona.Name)
	fmt.Fprintf(&b, "Question: %s\nReply: %s\n\n", pctx.Question, pctx.Candidate)
	b.WriteString("If the reply is acceptable, answer exactly APPROVED.\n")
	fmt.Fprintf(&b, "Otherwise answer \"FALLBACK: <%s|%s|%s|%s|%s>\" and, on the next line, a corrected reply.\n",
		FallbackIdentity, FallbackToolFailure, FallbackRephrase, FallbackIncomplete, FallbackCapabilities)
	return b.String()
}

func (p *Pipeline) fallbackResponse(kind string) string {
	switch kind {
	case FallbackIdentity:
		return p.identityReaffirmation()
	case FallbackToolFailure:
		return p.toolFailureResponse()
	case FallbackIncomplete:
		return p.incompleteResponse()
	case FallbackCapabilities:
		return p.capabilitiesResponse()
	default:
		return p.rephraseResponse()
	}
}

func (p *Pipeline) safetyRefusal() string {
	return fmt.Sprintf("I can't help with credit card numbers, passwords, or other sensitive details, and you should never share them in chat. %s", p.persona.ClosingPhrase)
}

func (p *Pipeline) identityReaffirmation() string {
	return fmt.Sprintf("I'm %s, your personal assistant. %s", p.persona.Name, p.persona.ClosingPhrase)
}

func (p *Pipeline) toolFailureResponse() string {
	return fmt.Sprintf("I couldn't reach the service I needed for that, so I don't have an answer right now. Please try again in a bit. %s", p.persona.ClosingPhrase)
}

func (p *Pipeline) rephraseResponse() string {
	return fmt.Sprintf("I'm not sure I caught that. Could you rephrase your question? %s", p.persona.ClosingPhrase)
}

func (p *Pipeline) incompleteResponse() string {
	return fmt.Sprintf("I may have only answered part of that. Could you ask the pieces one at a time so I don't miss anything? %s", p.persona.ClosingPhrase)
}

func (p *Pipeline) capabilitiesResponse() string {
	return fmt.Sprintf("I'm %s. I can check the weather, search the web, tell you the current date and time, and remember personal details you share with me. %s", p.persona.Name, p.persona.ClosingPhrase)
}

func hasErrorResult(results []models.ToolInvocationResult) bool {
	for _, r := range results {
		if r.Status == models.InvocationError {
			return true
		}
	}
	return false
}

var successPhrases = []string{"successfully", "all set", "done!", "here is", "here's", "i've "}
var failurePhrases = []string{"fail", "couldn't", "could not", "unable", "sorry", "trouble"}

func claimsSuccess(lower string) bool {
	for _, phrase := range failurePhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	for _, phrase := range successPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func sentenceCount(s string) int {
	count := 0
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}
	return count
}

// clauseCount is a rough measure of how many independent asks a
// question contains.
func clauseCount(s string) int {
	lower := strings.ToLower(s)
	count := 1
	for _, sep := range []string{" and ", "; ", " also ", " then "} {
		count += strings.Count(lower, sep)
	}
	return count
}
