package model

import (
	"time"
)

// StreamEventType names a client-facing server-sent event.
type StreamEventType string

const (
	StreamEventMeta  StreamEventType = "meta"
	StreamEventToken StreamEventType = "token"
	StreamEventEnd   StreamEventType = "end"
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one named event written to the client.
type StreamEvent struct {
	Type StreamEventType
	Data any
}

// MetaEvent associates a stream with its persisted conversation.
type MetaEvent struct {
	ConversationID string  `json:"conversation_id"`
	Title          *string `json:"title"`
}

// TokenEvent carries one incremental fragment, never the cumulative text.
type TokenEvent struct {
	Content string `json:"content"`
}

// EndEvent marks successful completion. It serializes as {}.
type EndEvent struct{}

// ErrorEvent reports a failed stream.
type ErrorEvent struct {
	Message string `json:"message"`
}

// LifecycleType represents the type of conversation lifecycle event.
type LifecycleType string

const (
	LifecycleConversationCreated LifecycleType = "conversation_created"
	LifecycleMessageAppended     LifecycleType = "message_appended"
	LifecycleStreamCompleted     LifecycleType = "stream_completed"
	LifecycleStreamFailed        LifecycleType = "stream_failed"
	LifecycleUpstreamFailed      LifecycleType = "upstream_failed"
)

// ConversationEvent records something that happened to a conversation.
type ConversationEvent struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	OwnerID        string            `json:"owner_id"`
	Type           LifecycleType     `json:"type"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
