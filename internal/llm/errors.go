package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultErrorMessage is reported when the upstream gives no usable message.
const DefaultErrorMessage = "OpenRouter call failed."

// ErrStreamStalled reports a stream that made no progress within the idle budget.
var ErrStreamStalled = errors.New("upstream stream stalled")

// UpstreamError is a non-success HTTP response from the upstream.
type UpstreamError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (HTTP %d): %s", e.Status, e.Message)
}

// TransportError is a network, timeout or protocol failure talking to the upstream.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream transport error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrorBody is the provider's error object.
type ErrorBody struct {
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// ExtractErrorMessage returns error.message, else message, else DefaultErrorMessage.
func ExtractErrorMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return DefaultErrorMessage
	}

	if len(env.Error) > 0 {
		var obj ErrorBody
		if err := json.Unmarshal(env.Error, &obj); err == nil && strings.TrimSpace(obj.Message) != "" {
			return obj.Message
		}
		var text string
		if err := json.Unmarshal(env.Error, &text); err == nil && strings.TrimSpace(text) != "" {
			return text
		}
	}
	if strings.TrimSpace(env.Message) != "" {
		return env.Message
	}
	return DefaultErrorMessage
}

// MessageFor returns the message to show a client for err.
func MessageFor(err error) string {
	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.Message != "" {
		return upErr.Message
	}
	return DefaultErrorMessage
}
