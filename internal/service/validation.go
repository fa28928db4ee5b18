package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

const (
	MaxModelLength        = 200
	MaxContentBytes       = 100_000
	MaxTitleLength        = 60
	MaxToneLength         = 50
	MaxStyleLength        = 50
	MaxContextLength      = 2000
	MaxCustomSystemLength = 8000
)

// ValidateSendRequest checks a chat send or stream request.
func ValidateSendRequest(req *model.SendMessageRequest) error {
	var v validator

	switch {
	case strings.TrimSpace(req.Model) == "":
		v.add("model", "model is required")
	case utf8.RuneCountInString(req.Model) > MaxModelLength:
		v.add("model", fmt.Sprintf("model must be at most %d characters", MaxModelLength))
	}

	switch {
	case strings.TrimSpace(req.Content) == "":
		v.add("content", "content is required")
	case len(req.Content) > MaxContentBytes:
		v.add("content", fmt.Sprintf("content exceeds maximum size of %d bytes", MaxContentBytes))
	case !utf8.ValidString(req.Content):
		v.add("content", "content must be valid UTF-8")
	}

	if req.ConversationID != nil && *req.ConversationID != "" {
		if _, err := uuid.Parse(*req.ConversationID); err != nil {
			v.add("conversation_id", "invalid conversation ID format")
		}
	}

	return v.err()
}

// ValidateConversationID checks a conversation id taken from a path.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Fields: map[string]string{"id": "invalid conversation ID format"}}
	}
	return nil
}

// ValidateTitle checks a rename request title.
func ValidateTitle(title string) error {
	var v validator
	switch {
	case strings.TrimSpace(title) == "":
		v.add("title", "title is required")
	case utf8.RuneCountInString(title) > MaxTitleLength:
		v.add("title", fmt.Sprintf("title must be at most %d characters", MaxTitleLength))
	}
	return v.err()
}

// ValidatePreferences checks a settings save request.
func ValidatePreferences(req *model.SavePreferencesRequest) error {
	var v validator
	checkLen(&v, "tone", req.Tone, MaxToneLength)
	checkLen(&v, "style", req.Style, MaxStyleLength)
	checkLen(&v, "context", req.Context, MaxContextLength)
	checkLen(&v, "custom_system", req.CustomSystem, MaxCustomSystemLength)
	return v.err()
}

func checkLen(v *validator, field string, value *string, limit int) {
	if value != nil && utf8.RuneCountInString(*value) > limit {
		v.add(field, fmt.Sprintf("%s must be at most %d characters", field, limit))
	}
}
