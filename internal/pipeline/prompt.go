package pipeline

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/aria-assistant/aria/internal/capability"
	"github.com/aria-assistant/aria/internal/window"
)

// writeConversation renders the bounded context: the compact summary,
// if one covers the prefix, then the raw tail.
func writeConversation(b *strings.Builder, win *window.ContextWindow) {
	if win == nil || (win.Compact == nil && len(win.Messages) == 0) {
		b.WriteString("Conversation so far: (none)\n")
		return
	}

	b.WriteString("Conversation so far:\n")
	if win.Compact != nil {
		b.WriteString("[Summary of earlier conversation: ")
		b.WriteString(win.Compact.Summary)
		b.WriteString("]\n")
	}
	for _, msg := range win.Messages {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
}

func sortedKeys(catalog map[string][]capability.Definition) []string {
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// truncate cuts s to at most max bytes, backing up so the cut never
// lands inside a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
