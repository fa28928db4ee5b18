package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// ConversationStore is the persistence used by ConversationService.
type ConversationStore interface {
	GetConversation(ctx context.Context, conversationID, ownerID string) (*model.Conversation, error)
	LoadHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
	ListConversations(ctx context.Context, ownerID string) ([]model.ConversationSummary, error)
	Rename(ctx context.Context, conversationID, ownerID, title string) (*model.Conversation, error)
	Delete(ctx context.Context, conversationID, ownerID string) error
}

// ConversationService handles conversation operations outside a chat turn.
type ConversationService struct {
	store  ConversationStore
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(store ConversationStore, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  store,
		logger: log.Named("conversations"),
	}
}

// List returns the owner's conversations, most recent first.
func (s *ConversationService) List(ctx context.Context, ownerID string) (*model.ListConversationsResponse, error) {
	convs, err := s.store.ListConversations(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.ConversationSummary{}
	}
	return &model.ListConversationsResponse{Conversations: convs}, nil
}

// Show returns a conversation with its transcript.
func (s *ConversationService) Show(ctx context.Context, ownerID, conversationID string) (*model.ConversationDetail, error) {
	if err := ValidateConversationID(conversationID); err != nil {
		return nil, err
	}

	conv, err := s.store.GetConversation(ctx, conversationID, ownerID)
	if err != nil {
		return nil, err
	}

	history, err := s.store.LoadHistory(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if history == nil {
		history = []model.ChatMessage{}
	}

	return &model.ConversationDetail{
		ID:       conv.ID,
		Title:    conv.DisplayTitle(),
		Messages: history,
	}, nil
}

// Rename sets an explicit title.
func (s *ConversationService) Rename(ctx context.Context, ownerID, conversationID string, req *model.RenameConversationRequest) (*model.RenameConversationResponse, error) {
	if err := ValidateConversationID(conversationID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if err := ValidateTitle(title); err != nil {
		return nil, err
	}

	conv, err := s.store.Rename(ctx, conversationID, ownerID, title)
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation renamed", zap.String("conversation_id", conv.ID))

	return &model.RenameConversationResponse{OK: true, ID: conv.ID, Title: conv.DisplayTitle()}, nil
}

// Delete removes a conversation and its messages.
func (s *ConversationService) Delete(ctx context.Context, ownerID, conversationID string) error {
	if err := ValidateConversationID(conversationID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, conversationID, ownerID); err != nil {
		return err
	}

	s.logger.Info("conversation deleted", zap.String("conversation_id", conversationID))
	return nil
}
