package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/aria-assistant/aria/internal/capability"
	"github.com/aria-assistant/aria/internal/inference"
	"github.com/aria-assistant/aria/internal/models"
)

// ExecuteTools makes the selected capabilities available to the model,
// extracts the invocation requests from its reply, and runs each one
// through the registry. Every failure, including an unreachable model,
// becomes a structured error result; this phase never aborts early and
// never returns an error.
func (p *Pipeline) ExecuteTools(ctx context.Context, pctx *ProcessingContext) []models.ToolInvocationResult {
	pctx.Phase = PhaseToolExecution

	tools := make([]inference.Tool, 0, len(pctx.SelectedTools))
	for _, def := range pctx.SelectedTools {
		tools = append(tools, def.Tool())
	}

	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: p.executionSystemPrompt(pctx)},
		{Role: models.RoleUser, Content: pctx.Question},
	}

	chat, err := p.client.Chat(ctx, messages, tools)
	if err != nil {
		p.logger.Warn().Err(err).Str("request", pctx.RequestID).Msg("tool execution chat failed")
		pctx.ToolResults = []models.ToolInvocationResult{{
			ToolName: "inference",
			Status:   models.InvocationError,
			Message:  fmt.Sprintf("capability call could not be made: %v", err),
		}}
		return pctx.ToolResults
	}

	extraction := p.extractor.Extract(chat.Content, chat.ToolCalls)

	var results []models.ToolInvocationResult
	for _, inv := range extraction.Invocations {
		results = append(results, p.invokeOne(ctx, pctx, inv))
	}

	pctx.ToolResults = results
	return results
}

func (p *Pipeline) executionSystemPrompt(pctx *ProcessingContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Use the provided tools to gather what the question needs. Call a tool rather than guessing at live data.\n\n", p.persona.Name)
	writeConversation(&b, pctx.Window)
	if pctx.Assessment.ToolQuery != "" {
		fmt.Fprintf(&b, "\nAssessed need: %s\n", pctx.Assessment.ToolQuery)
	}
	return b.String()
}

// invokeOne runs a single invocation. User-scoped capabilities get the
// authenticated identity injected into their arguments; the model can
// never speak for another user.
func (p *Pipeline) invokeOne(ctx context.Context, pctx *ProcessingContext, inv models.ToolInvocation) models.ToolInvocationResult {
	args := inv.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	if def, err := p.registry.Lookup(inv.Name); err == nil && def.UserScoped {
		args[capability.UserIDArg] = pctx.UserID
	}

	data, err := p.registry.Invoke(ctx, inv.Name, args)
	if err != nil {
		p.logger.Debug().Err(err).Str("tool", inv.Name).Str("request", pctx.RequestID).Msg("capability invocation failed")
		return models.ToolInvocationResult{
			ToolName: inv.Name,
			Status:   models.InvocationError,
			Message:  err.Error(),
		}
	}

	return models.ToolInvocationResult{
		ToolName: inv.Name,
		Status:   models.InvocationSuccess,
		Data:     data,
	}
}
