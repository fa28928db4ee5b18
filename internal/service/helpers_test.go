package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeClient stands in for the upstream.
type fakeClient struct {
	mu sync.Mutex

	completion  *llm.Completion
	completeErr error

	stream    func() io.ReadCloser
	streamErr error

	models    []llm.ModelInfo
	modelsErr error

	gotModel    string
	gotMessages []model.ChatMessage
}

func (f *fakeClient) Complete(_ context.Context, modelID string, messages []model.ChatMessage) (*llm.Completion, error) {
	f.record(modelID, messages)
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return f.completion, nil
}

func (f *fakeClient) Stream(_ context.Context, modelID string, messages []model.ChatMessage) (io.ReadCloser, error) {
	f.record(modelID, messages)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream(), nil
}

func (f *fakeClient) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return f.models, f.modelsErr
}

func (f *fakeClient) record(modelID string, messages []model.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotModel = modelID
	f.gotMessages = append([]model.ChatMessage(nil), messages...)
}

func streamOf(parts ...string) func() io.ReadCloser {
	return func() io.ReadCloser {
		return io.NopCloser(strings.NewReader(strings.Join(parts, "")))
	}
}

// brokenStream yields parts and then fails like a dropped connection.
func brokenStream(parts ...string) func() io.ReadCloser {
	return func() io.ReadCloser {
		return io.NopCloser(io.MultiReader(
			strings.NewReader(strings.Join(parts, "")),
			failingReader{err: errors.New("connection reset by peer")},
		))
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

// recordingSink collects relay events.
type recordingSink struct {
	mu     sync.Mutex
	events []model.StreamEvent
	failAt int
}

func (s *recordingSink) Send(_ context.Context, ev model.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.events)+1 == s.failAt {
		return errors.New("broken pipe")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []model.StreamEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StreamEventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

// recordingPublisher collects lifecycle events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.ConversationEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev *model.ConversationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []model.LifecycleType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.LifecycleType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func strPtr(s string) *string { return &s }
