package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

func TestEventSubject(t *testing.T) {
	got := EventSubject("0190b6c4-1f3a-7c3e-9d2a-5b8f7e6d4c3b", model.LifecycleStreamCompleted)
	assert.Equal(t, "chat.0190b6c4-1f3a-7c3e-9d2a-5b8f7e6d4c3b.event.stream_completed", got)
}

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{URL: "nats://localhost:4222"}.Enabled())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishEvent(context.Background(), &model.ConversationEvent{ID: "x"}))
}

func TestConnectOptions(t *testing.T) {
	log := logger.NewNop()

	opts, err := connectOptions(Config{URL: "nats://localhost:4222", Token: "t"}, log)
	assert.NoError(t, err)
	assert.NotEmpty(t, opts)

	_, err = connectOptions(Config{URL: "nats://localhost:4222", CertFile: "client.pem"}, log)
	assert.Error(t, err)
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), Config{}, logger.NewNop())
	assert.Error(t, err)
}
