package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

const (
	// StreamName is the name of the chat events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"
)

// Publisher records conversation lifecycle events.
type Publisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) error
}

// NopPublisher drops every event. Used when NATS is not configured.
type NopPublisher struct{}

// PublishEvent implements Publisher.
func (NopPublisher) PublishEvent(context.Context, *model.ConversationEvent) error { return nil }

// EventPublisher publishes lifecycle events to JetStream.
type EventPublisher struct {
	js jetstream.JetStream
}

// NewEventPublisher creates a publisher on the client's JetStream context.
func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{js: client.JetStream()}
}

// EnsureStream creates the events stream if it does not exist yet.
func (p *EventPublisher) EnsureStream(ctx context.Context) error {
	_, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Chat conversation lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for an event.
func EventSubject(conversationID string, eventType model.LifecycleType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, conversationID, eventType)
}

// PublishEvent publishes an event to JetStream.
func (p *EventPublisher) PublishEvent(ctx context.Context, event *model.ConversationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// The event id doubles as the dedupe key.
	if _, err := p.js.Publish(ctx, EventSubject(event.ConversationID, event.Type), data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
