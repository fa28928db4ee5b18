package service

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// PreferenceStore is the persistence used by SettingsService.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, ownerID string) (*model.Preferences, error)
	SavePreferences(ctx context.Context, ownerID string, req *model.SavePreferencesRequest) (*model.Preferences, error)
}

// SettingsService reads and writes prompt preferences.
type SettingsService struct {
	store PreferenceStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(store PreferenceStore) *SettingsService {
	return &SettingsService{store: store}
}

// Get returns the owner's preferences with defaults applied.
func (s *SettingsService) Get(ctx context.Context, ownerID string) (model.ResolvedPreferences, error) {
	prefs, err := s.store.GetPreferences(ctx, ownerID)
	if err != nil {
		return model.ResolvedPreferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	return prefs.Resolve(), nil
}

// Save merges req into the stored preferences.
func (s *SettingsService) Save(ctx context.Context, ownerID string, req *model.SavePreferencesRequest) (model.ResolvedPreferences, error) {
	if err := ValidatePreferences(req); err != nil {
		return model.ResolvedPreferences{}, err
	}
	prefs, err := s.store.SavePreferences(ctx, ownerID, req)
	if err != nil {
		return model.ResolvedPreferences{}, fmt.Errorf("failed to save preferences: %w", err)
	}
	return prefs.Resolve(), nil
}
