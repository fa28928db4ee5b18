package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

const conversationColumns = `id, owner_id, title, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		conv                 model.Conversation
		title                sql.NullString
		metadata             string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&conv.ID, &conv.OwnerID, &title, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.Title = nullableString(title)
	conv.CreatedAt = fromMillis(createdAt)
	conv.UpdatedAt = fromMillis(updatedAt)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &conv.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to decode conversation metadata")
		}
	}
	return &conv, nil
}

// CreateConversation inserts a new untitled conversation for ownerID.
func (s *Store) CreateConversation(ctx context.Context, ownerID string, metadata map[string]string) (*model.Conversation, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode conversation metadata")
	}

	now := s.timestamp()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		OwnerID:   ownerID,
		Metadata:  metadata,
		CreatedAt: fromMillis(now),
		UpdatedAt: fromMillis(now),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, title, metadata, created_at, updated_at)
		VALUES (?, ?, NULL, ?, ?, ?)
	`, conv.ID, conv.OwnerID, string(encoded), now, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}

	return conv, nil
}

// GetConversation returns the conversation if it exists and is owned by ownerID.
func (s *Store) GetConversation(ctx context.Context, conversationID, ownerID string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ? AND owner_id = ?
	`, conversationID, ownerID)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get conversation")
	}
	return conv, nil
}

// ResolveOrCreate returns the owner's existing conversation when existingID is
// set, or creates a new one recording the selected model. The boolean reports
// whether a conversation was created.
func (s *Store) ResolveOrCreate(ctx context.Context, ownerID string, existingID *string, selectedModel string) (*model.Conversation, bool, error) {
	if existingID != nil && *existingID != "" {
		conv, err := s.GetConversation(ctx, *existingID, ownerID)
		return conv, false, err
	}

	conv, err := s.CreateConversation(ctx, ownerID, map[string]string{model.MetadataModel: selectedModel})
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// EnsureTitle sets the title from firstUserText when it is still unset. Once
// a title exists it is never changed here; only Rename changes it.
func (s *Store) EnsureTitle(ctx context.Context, conv *model.Conversation, firstUserText string) error {
	if conv.Title != nil {
		return nil
	}

	title := MakeTitle(firstUserText)
	now := s.timestamp()

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at = ?
		WHERE id = ? AND title IS NULL
	`, title, now, conv.ID)
	if err != nil {
		return errors.Wrap(err, "failed to set conversation title")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Another request titled it first; adopt the stored title.
		var stored sql.NullString
		err := s.db.QueryRowContext(ctx, `SELECT title FROM conversations WHERE id = ?`, conv.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "failed to reload conversation title")
		}
		conv.Title = nullableString(stored)
		return nil
	}

	conv.Title = &title
	conv.UpdatedAt = fromMillis(now)
	return nil
}

// ListConversations returns the owner's conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, ownerID string) ([]model.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, updated_at
		FROM conversations
		WHERE owner_id = ?
		ORDER BY updated_at DESC, created_at DESC
	`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	list := make([]model.ConversationSummary, 0)
	for rows.Next() {
		var (
			item      model.ConversationSummary
			title     sql.NullString
			updatedAt int64
		)
		if err := rows.Scan(&item.ID, &title, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		item.Title = nullableString(title)
		item.UpdatedAt = fromMillis(updatedAt)
		list = append(list, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate conversations")
	}

	return list, nil
}

// Rename sets an explicit title. Conversations owned by someone else are
// reported as ErrNotFound and left unchanged.
func (s *Store) Rename(ctx context.Context, conversationID, ownerID, title string) (*model.Conversation, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, title, s.timestamp(), conversationID, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to rename conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return s.GetConversation(ctx, conversationID, ownerID)
}

// Delete removes the conversation and all of its messages in one transaction.
func (s *Store) Delete(ctx context.Context, conversationID, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin delete")
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM conversations WHERE id = ? AND owner_id = ?)
	`, conversationID, ownerID).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "failed to check conversation ownership")
	}
	if !exists {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return errors.Wrap(err, "failed to delete messages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND owner_id = ?`, conversationID, ownerID); err != nil {
		return errors.Wrap(err, "failed to delete conversation")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit delete")
	}
	return nil
}
