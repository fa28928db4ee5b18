package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// AppendMessage inserts a message and touches the parent conversation's
// updated_at in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, role model.Role, content string) (*model.Message, error) {
	if !role.Valid() {
		return nil, errors.Errorf("invalid message role %q", role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin append")
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, now, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to touch conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, conversationID, string(role), content, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read message id")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit append")
	}

	return &model.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      fromMillis(now),
	}, nil
}

// LoadHistory returns every message of the conversation in insertion order.
func (s *Store) LoadHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM messages
		WHERE conversation_id = ?
		ORDER BY id ASC
	`, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load history")
	}
	defer rows.Close()

	history := make([]model.ChatMessage, 0)
	for rows.Next() {
		var msg model.ChatMessage
		var role string
		if err := rows.Scan(&role, &msg.Content); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		msg.Role = model.Role(role)
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate history")
	}

	return history, nil
}

// CountMessages returns the number of messages stored for a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count messages")
	}
	return n, nil
}
