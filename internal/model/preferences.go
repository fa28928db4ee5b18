package model

import (
	"time"
)

const (
	DefaultTone  = "neutral"
	DefaultStyle = "concise"
)

// Preferences holds a user's prompt customization. A nil field was never
// saved and falls back to its default; an empty string was saved empty.
type Preferences struct {
	OwnerID      string    `json:"-"`
	Tone         *string   `json:"tone"`
	Style        *string   `json:"style"`
	Context      *string   `json:"context"`
	CustomSystem *string   `json:"custom_system"`
	UpdatedAt    time.Time `json:"-"`
}

// ResolvedPreferences is Preferences with defaults applied.
type ResolvedPreferences struct {
	Tone         string `json:"tone"`
	Style        string `json:"style"`
	Context      string `json:"context"`
	CustomSystem string `json:"custom_system"`
}

// Resolve applies defaults to absent fields. A nil receiver resolves to all defaults.
func (p *Preferences) Resolve() ResolvedPreferences {
	r := ResolvedPreferences{Tone: DefaultTone, Style: DefaultStyle}
	if p == nil {
		return r
	}
	if p.Tone != nil {
		r.Tone = *p.Tone
	}
	if p.Style != nil {
		r.Style = *p.Style
	}
	if p.Context != nil {
		r.Context = *p.Context
	}
	if p.CustomSystem != nil {
		r.CustomSystem = *p.CustomSystem
	}
	return r
}

// SavePreferencesRequest updates preferences; absent fields keep their stored value.
type SavePreferencesRequest struct {
	Tone         *string `json:"tone"`
	Style        *string `json:"style"`
	Context      *string `json:"context"`
	CustomSystem *string `json:"custom_system"`
}
