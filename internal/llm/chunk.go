package llm

import (
	"encoding/json"
)

// DoneSentinel is the data payload that ends an upstream stream.
const DoneSentinel = "[DONE]"

// StreamChunk is one decoded `data:` payload of a streaming completion.
type StreamChunk struct {
	ID      string         `json:"id,omitempty"`
	Model   string         `json:"model,omitempty"`
	Choices []StreamChoice `json:"choices"`
	Error   *ErrorBody     `json:"error,omitempty"`
}

// StreamChoice is one choice of a stream chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason,omitempty"`
}

// StreamDelta is the incremental part of a choice.
type StreamDelta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// ParseStreamChunk decodes a data payload.
func ParseStreamChunk(payload []byte) (*StreamChunk, error) {
	var chunk StreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// DeltaContent returns the first choice's delta text, or false when absent or empty.
func (c *StreamChunk) DeltaContent() (string, bool) {
	if c == nil || len(c.Choices) == 0 {
		return "", false
	}
	content := c.Choices[0].Delta.Content
	if content == nil || *content == "" {
		return "", false
	}
	return *content, true
}

// ErrorMessage returns the in-stream error message, or false when the chunk carries none.
func (c *StreamChunk) ErrorMessage() (string, bool) {
	if c == nil || c.Error == nil {
		return "", false
	}
	if c.Error.Message == "" {
		return DefaultErrorMessage, true
	}
	return c.Error.Message, true
}
