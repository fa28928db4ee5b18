// Package model defines data structures for the chat relay.
package model

import (
	"time"
)

// UntitledLabel is shown for conversations whose title has not been set yet.
const UntitledLabel = "Untitled"

// MetadataModel is the metadata key holding the model a conversation was started with.
const MetadataModel = "model"

// Conversation represents a conversation thread owned by a single user.
type Conversation struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	Title     *string           `json:"title"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// DisplayTitle returns the title, or UntitledLabel while it is unset.
func (c *Conversation) DisplayTitle() string {
	if c.Title == nil {
		return UntitledLabel
	}
	return *c.Title
}

// ConversationSummary is one row of the conversation index.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     *string   `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationDetail is a conversation with its full transcript.
type ConversationDetail struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Messages []ChatMessage `json:"messages"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
}

// RenameConversationRequest is the request to rename a conversation.
type RenameConversationRequest struct {
	Title string `json:"title"`
}

// RenameConversationResponse is the response after a rename.
type RenameConversationResponse struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id"`
	Title string `json:"title"`
}
