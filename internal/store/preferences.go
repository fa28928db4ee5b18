package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// GetPreferences returns the owner's stored preferences, or nil when none were saved.
func (s *Store) GetPreferences(ctx context.Context, ownerID string) (*model.Preferences, error) {
	var (
		tone, style, contextText, custom sql.NullString
		updatedAt                    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tone, style, context, custom_system, updated_at
		FROM user_preferences WHERE owner_id = ?
	`, ownerID).Scan(&tone, &style, &contextText, &custom, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get preferences")
	}

	return &model.Preferences{
		OwnerID:      ownerID,
		Tone:         nullableString(tone),
		Style:        nullableString(style),
		Context:      nullableString(contextText),
		CustomSystem: nullableString(custom),
		UpdatedAt:    fromMillis(updatedAt),
	}, nil
}

// SavePreferences creates the owner's record on first save and otherwise
// updates it in place. Nil fields in req keep their stored value.
func (s *Store) SavePreferences(ctx context.Context, ownerID string, req *model.SavePreferencesRequest) (*model.Preferences, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (owner_id, tone, style, context, custom_system, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			tone          = COALESCE(excluded.tone, user_preferences.tone),
			style         = COALESCE(excluded.style, user_preferences.style),
			context       = COALESCE(excluded.context, user_preferences.context),
			custom_system = COALESCE(excluded.custom_system, user_preferences.custom_system),
			updated_at    = excluded.updated_at
	`, ownerID, req.Tone, req.Style, req.Context, req.CustomSystem, s.timestamp())
	if err != nil {
		return nil, errors.Wrap(err, "failed to save preferences")
	}

	return s.GetPreferences(ctx, ownerID)
}
