package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/aria-assistant/aria/internal/capability"
)

// SelectTools narrows the assessed capability list to the subset the
// model judges necessary. Selection never fails the request: any model
// error or unusable answer falls back to the unfiltered candidate list.
func (p *Pipeline) SelectTools(ctx context.Context, pctx *ProcessingContext) []capability.Definition {
	pctx.Phase = PhaseToolSelection

	candidates := p.registry.Definitions(pctx.Assessment.ToolsNeeded)
	if len(candidates) == 0 {
		// Nothing usable was named; offer the whole catalog.
		catalog := p.registry.Catalog()
		for _, category := range sortedKeys(catalog) {
			candidates = append(candidates, catalog[category]...)
		}
	}
	if len(candidates) <= 1 {
		pctx.SelectedTools = candidates
		return candidates
	}

	raw, err := p.generate(ctx, buildSelectionPrompt(pctx, candidates))
	if err != nil {
		p.logger.Warn().Err(err).Str("request", pctx.RequestID).Msg("tool selection failed, using unfiltered list")
		pctx.SelectedTools = candidates
		return candidates
	}

	selected := filterByMention(candidates, raw)
	if len(selected) == 0 {
		selected = candidates
	}

	pctx.SelectedTools = selected
	return selected
}

func buildSelectionPrompt(pctx *ProcessingContext, candidates []capability.Definition) string {
	var b strings.Builder

	b.WriteString("Choose which of these capabilities are needed to answer the question. Reply with the capability names, one per line, each followed by a short justification.\n\n")
	b.WriteString("Capabilities:\n")
	for _, def := range candidates {
		fmt.Fprintf(&b, "- %s: %s", def.Name, def.Description)
		if len(def.Parameters) > 0 {
			b.WriteString(" (parameters:")
			for name, desc := range def.Parameters {
				fmt.Fprintf(&b, " %s=%s", name, desc)
			}
			b.WriteString(")")
		}
		if def.UsageHint != "" {
			fmt.Fprintf(&b, " Hint: %s", def.UsageHint)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", pctx.Question)
	if pctx.Assessment.ToolQuery != "" {
		fmt.Fprintf(&b, "Assessed need: %s\n", pctx.Assessment.ToolQuery)
	}
	return b.String()
}

func filterByMention(candidates []capability.Definition, raw string) []capability.Definition {
	lower := strings.ToLower(raw)
	var selected []capability.Definition
	for _, def := range candidates {
		if strings.Contains(lower, def.Name) {
			selected = append(selected, def)
		}
	}
	return selected
}
