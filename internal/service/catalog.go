package service

import (
	"sort"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
)

// PreferredModels lists the models shown first, in this order.
var PreferredModels = []string{
	"google/gemini-2.5-flash",
	"openai/gpt-4o",
	"openai/gpt-4o-mini",
	"anthropic/claude-3.5-sonnet",
	"openrouter/auto",
}

// FallbackModels is served whenever the upstream catalog is unavailable.
func FallbackModels() []model.ModelOption {
	return []model.ModelOption{
		{ID: "openai/gpt-4o-mini", Label: "GPT-4o mini"},
		{ID: "openrouter/auto", Label: "OpenRouter Auto"},
	}
}

// RankModels maps raw catalog entries to options and orders them: preferred
// models by their position in PreferredModels, then everything else in
// original order. Entries without an id are dropped.
func RankModels(raw []llm.ModelInfo) []model.ModelOption {
	rank := make(map[string]int, len(PreferredModels))
	for i, id := range PreferredModels {
		rank[id] = i
	}

	options := make([]model.ModelOption, 0, len(raw))
	for _, m := range raw {
		id := m.ID
		if id == "" {
			id = m.Name
		}
		if id == "" {
			continue
		}
		label := m.Name
		if label == "" {
			label = id
		}
		options = append(options, model.ModelOption{ID: id, Label: label})
	}

	position := func(id string) int {
		if i, ok := rank[id]; ok {
			return i
		}
		return len(PreferredModels)
	}
	sort.SliceStable(options, func(i, j int) bool {
		return position(options[i].ID) < position(options[j].ID)
	})

	return options
}
