// Package directory is the read-only view of player and team profiles that messaging renders.
// Profile editing lives elsewhere; nothing here writes profile data outside of seeding.
package directory

import (
	"context"
	"strings"
)

// ProfileSummary is the counterpart identity shown in inbox rows and thread headers.
type ProfileSummary struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Country   string `json:"country,omitempty"`
	City      string `json:"city,omitempty"`
	IsSeed    bool   `json:"is_seed,omitempty"`
}

// DisplayName returns FullName, or fallback when the profile has no name.
func (p ProfileSummary) DisplayName(fallback string) string {
	if n := strings.TrimSpace(p.FullName); n != "" {
		return n
	}
	return fallback
}

// Subtitle renders "role · country", defaulting the role to "user".
func (p ProfileSummary) Subtitle() string {
	role := strings.TrimSpace(p.Role)
	if role == "" {
		role = "user"
	}
	if c := strings.TrimSpace(p.Country); c != "" {
		return role + " · " + c
	}
	return role
}

// Profile is a directory record including the private contact email.
type Profile struct {
	ProfileSummary
	Email string
}

// Reader is the lookup surface messaging depends on.
type Reader interface {
	// Get returns nil when the profile does not exist.
	Get(ctx context.Context, id string) (*ProfileSummary, error)
	// GetMany returns summaries keyed by id; missing ids are absent from the map.
	GetMany(ctx context.Context, ids []string) (map[string]ProfileSummary, error)
	// Email returns "" when the profile has no email on file.
	Email(ctx context.Context, id string) (string, error)
}
