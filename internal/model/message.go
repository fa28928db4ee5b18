package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents a persisted conversation message. ID increases with
// insertion order and doubles as the message ordinal.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatMessage is the role/content pair sent upstream and returned by transcripts.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SendMessageRequest is the body of both the send and the stream endpoints.
type SendMessageRequest struct {
	Model          string  `json:"model"`
	Content        string  `json:"content"`
	ConversationID *string `json:"conversation_id"`
}

// SendMessageResponse is the non-streaming success response.
type SendMessageResponse struct {
	OK             bool   `json:"ok"`
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

// ErrorResponse is the failure body shared by the chat endpoints.
type ErrorResponse struct {
	OK     bool              `json:"ok"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
