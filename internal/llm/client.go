// Package llm provides the upstream chat-completion client.
package llm

import (
	"context"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// Completion is the result of a blocking chat completion.
type Completion struct {
	Content   string
	Model     string
	TokensIn  int
	TokensOut int
	Raw       openai.ChatCompletionResponse
}

// ModelInfo is one raw catalog entry as reported upstream.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client is the interface for the upstream chat-completion provider.
type Client interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, modelID string, messages []model.ChatMessage) (*Completion, error)

	// Stream sends a streaming completion request and returns the open
	// event-stream body. The caller must close it.
	Stream(ctx context.Context, modelID string, messages []model.ChatMessage) (io.ReadCloser, error)

	// ListModels fetches the upstream model catalog.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

func toOpenAIMessages(messages []model.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return out
}
