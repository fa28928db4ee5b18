// Package prompt builds the system message sent ahead of every conversation.
package prompt

import (
	"strings"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// BaseInstruction opens every composed system prompt.
const BaseInstruction = "You are a helpful assistant."

// Compose returns the system prompt for the given preferences. A non-blank
// custom system prompt replaces the composed template entirely.
func Compose(p *model.Preferences) string {
	r := p.Resolve()

	if custom := strings.TrimSpace(r.CustomSystem); custom != "" {
		return custom
	}

	parts := []string{BaseInstruction}
	if tone := strings.TrimSpace(r.Tone); tone != "" {
		parts = append(parts, "Tone: "+tone+".")
	}
	if style := strings.TrimSpace(r.Style); style != "" {
		parts = append(parts, "Writing style: "+style+".")
	}
	if ctx := strings.TrimSpace(r.Context); ctx != "" {
		parts = append(parts, "Context: "+ctx)
	}

	return strings.Join(parts, " ")
}

// SystemMessage wraps Compose as the leading history entry.
func SystemMessage(p *model.Preferences) model.ChatMessage {
	return model.ChatMessage{Role: model.RoleSystem, Content: Compose(p)}
}
