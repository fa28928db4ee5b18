package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	natsclient "github.com/capitalize-ai/chat-relay/internal/nats"
	"github.com/capitalize-ai/chat-relay/internal/prompt"
	"github.com/capitalize-ai/chat-relay/internal/relay"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

const (
	modeSend   = "send"
	modeStream = "stream"

	// persistTimeout bounds saving a streamed answer after the client left.
	persistTimeout = 10 * time.Second

	publishTimeout = 2 * time.Second
)

// ChatStore is the persistence used by ChatService.
type ChatStore interface {
	ResolveOrCreate(ctx context.Context, ownerID string, existingID *string, selectedModel string) (*model.Conversation, bool, error)
	EnsureTitle(ctx context.Context, conv *model.Conversation, firstUserText string) error
	AppendMessage(ctx context.Context, conversationID string, role model.Role, content string) (*model.Message, error)
	LoadHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
	GetPreferences(ctx context.Context, ownerID string) (*model.Preferences, error)
}

// ChatService orchestrates a chat turn: conversation bookkeeping, prompt
// assembly, the upstream call and persistence of the reply.
type ChatService struct {
	store  ChatStore
	client llm.Client
	relay  *relay.Relay
	events natsclient.Publisher
	logger *logger.Logger
	tracer trace.Tracer
}

// NewChatService creates a new chat service. A nil publisher disables
// lifecycle events.
func NewChatService(store ChatStore, client llm.Client, rl *relay.Relay, events natsclient.Publisher, log *logger.Logger) *ChatService {
	if events == nil {
		events = natsclient.NopPublisher{}
	}
	return &ChatService{
		store:  store,
		client: client,
		relay:  rl,
		events: events,
		logger: log.Named("chat"),
		tracer: otel.Tracer("chat-relay/service"),
	}
}

// Send runs a blocking chat turn.
func (s *ChatService) Send(ctx context.Context, ownerID string, req *model.SendMessageRequest) (*model.SendMessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ChatService.Send", trace.WithAttributes(
		attribute.String("chat.model", req.Model),
	))
	defer span.End()

	conv, messages, err := s.prepare(ctx, ownerID, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("chat.conversation_id", conv.ID))

	start := time.Now()
	completion, err := s.client.Complete(ctx, req.Model, messages)
	if err != nil {
		s.upstreamFailed(ctx, modeSend, conv, err, time.Since(start))
		recordSpanError(span, err)
		return nil, err
	}
	metrics.RecordUpstream(modeSend, "success", time.Since(start).Seconds())

	// An empty reply is returned but not stored.
	if completion.Content != "" {
		if err := s.appendMessage(ctx, conv, ownerID, model.RoleAssistant, completion.Content); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
	}

	s.logger.Info("chat completed",
		zap.String("conversation_id", conv.ID),
		zap.String("model", req.Model),
		zap.Int("tokens_in", completion.TokensIn),
		zap.Int("tokens_out", completion.TokensOut),
	)

	return &model.SendMessageResponse{
		OK:             true,
		Text:           completion.Content,
		ConversationID: conv.ID,
		Title:          conv.DisplayTitle(),
	}, nil
}

// Stream runs a streaming chat turn, relaying events to sink. A returned
// error means nothing was written to sink; once streaming starts every
// outcome is reported through sink and the result.
func (s *ChatService) Stream(ctx context.Context, ownerID string, req *model.SendMessageRequest, sink relay.Sink) (*relay.Result, error) {
	ctx, span := s.tracer.Start(ctx, "ChatService.Stream", trace.WithAttributes(
		attribute.String("chat.model", req.Model),
	))
	defer span.End()

	conv, messages, err := s.prepare(ctx, ownerID, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("chat.conversation_id", conv.ID))

	meta := model.MetaEvent{ConversationID: conv.ID, Title: conv.Title}
	open := func(ctx context.Context) (io.ReadCloser, error) {
		return s.client.Stream(ctx, req.Model, messages)
	}

	start := time.Now()
	res := s.relay.Run(ctx, meta, open, sink)
	elapsed := time.Since(start)

	metrics.StreamFragmentsTotal.WithLabelValues(req.Model).Add(float64(res.Fragments))
	span.SetAttributes(
		attribute.String("chat.stream_state", res.State.String()),
		attribute.Int("chat.fragments", res.Fragments),
	)

	// The client may be gone; the partial answer is still kept.
	if res.Content != "" {
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		err := s.appendMessage(persistCtx, conv, ownerID, model.RoleAssistant, res.Content)
		cancel()
		if err != nil {
			s.logger.Error("failed to persist streamed reply",
				zap.String("conversation_id", conv.ID),
				zap.Int("content_bytes", len(res.Content)),
				zap.Error(err),
			)
			recordSpanError(span, err)
		}
	}

	switch {
	case res.Err != nil:
		s.upstreamFailed(ctx, modeStream, conv, res.Err, elapsed)
		s.publish(ctx, conv, ownerID, model.LifecycleStreamFailed, res.Err.Error(), nil)
		recordSpanError(span, res.Err)
	case res.Disconnected != nil:
		metrics.RecordUpstream(modeStream, "client_gone", elapsed.Seconds())
		s.logger.Info("stream client disconnected",
			zap.String("conversation_id", conv.ID),
			zap.Int("fragments", res.Fragments),
			zap.Error(res.Disconnected),
		)
		s.publish(ctx, conv, ownerID, model.LifecycleStreamFailed, "client disconnected", nil)
	default:
		metrics.RecordUpstream(modeStream, "success", elapsed.Seconds())
		s.publish(ctx, conv, ownerID, model.LifecycleStreamCompleted, "", map[string]string{
			"fragments": strconv.Itoa(res.Fragments),
		})
	}

	return res, nil
}

// Models returns the ranked upstream catalog, or the fallback list when the
// catalog cannot be fetched or is empty.
func (s *ChatService) Models(ctx context.Context) []model.ModelOption {
	raw, err := s.client.ListModels(ctx)
	if err != nil {
		s.logger.Warn("failed to load models from upstream", zap.Error(err))
		return FallbackModels()
	}

	ranked := RankModels(raw)
	if len(ranked) == 0 {
		return FallbackModels()
	}
	return ranked
}

// prepare validates the request, resolves the conversation, records the
// user message and returns the full upstream message list.
func (s *ChatService) prepare(ctx context.Context, ownerID string, req *model.SendMessageRequest) (*model.Conversation, []model.ChatMessage, error) {
	if err := ValidateSendRequest(req); err != nil {
		return nil, nil, err
	}

	conv, created, err := s.store.ResolveOrCreate(ctx, ownerID, req.ConversationID, req.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}
	if created {
		metrics.ConversationsTotal.Inc()
		s.publish(ctx, conv, ownerID, model.LifecycleConversationCreated, "", map[string]string{
			model.MetadataModel: req.Model,
		})
	}

	if err := s.store.EnsureTitle(ctx, conv, req.Content); err != nil {
		return nil, nil, fmt.Errorf("failed to set title: %w", err)
	}

	if err := s.appendMessage(ctx, conv, ownerID, model.RoleUser, req.Content); err != nil {
		return nil, nil, err
	}

	history, err := s.store.LoadHistory(ctx, conv.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history: %w", err)
	}

	prefs, err := s.store.GetPreferences(ctx, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	messages := make([]model.ChatMessage, 0, len(history)+1)
	messages = append(messages, prompt.SystemMessage(prefs))
	messages = append(messages, history...)

	return conv, messages, nil
}

func (s *ChatService) appendMessage(ctx context.Context, conv *model.Conversation, ownerID string, role model.Role, content string) error {
	msg, err := s.store.AppendMessage(ctx, conv.ID, role, content)
	if err != nil {
		return fmt.Errorf("failed to append %s message: %w", role, err)
	}
	metrics.MessagesTotal.WithLabelValues(string(role)).Inc()
	s.publish(ctx, conv, ownerID, model.LifecycleMessageAppended, "", map[string]string{
		"role":       string(role),
		"message_id": strconv.FormatInt(msg.ID, 10),
	})
	return nil
}

func (s *ChatService) upstreamFailed(ctx context.Context, mode string, conv *model.Conversation, err error, elapsed time.Duration) {
	status := 0
	var upErr *llm.UpstreamError
	if errors.As(err, &upErr) {
		status = upErr.Status
	}

	metrics.RecordUpstream(mode, "error", elapsed.Seconds())
	metrics.RecordUpstreamError(mode, strconv.Itoa(status))

	s.logger.Warn("upstream call failed",
		zap.String("mode", mode),
		zap.String("conversation_id", conv.ID),
		zap.Int("status", status),
		zap.Error(err),
	)
	s.publish(ctx, conv, conv.OwnerID, model.LifecycleUpstreamFailed, llm.MessageFor(err), map[string]string{
		"mode":   mode,
		"status": strconv.Itoa(status),
	})
}

// publish records a lifecycle event. Failures are logged and never reach the caller.
func (s *ChatService) publish(ctx context.Context, conv *model.Conversation, ownerID string, typ model.LifecycleType, reason string, metadata map[string]string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		OwnerID:        ownerID,
		Type:           typ,
		Reason:         reason,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish lifecycle event",
			zap.String("conversation_id", conv.ID),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
