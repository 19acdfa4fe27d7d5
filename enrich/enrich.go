// Package enrich joins external identity and bibliographic data onto raw
// events. Both collaborators are fallible and latency-bearing; every lookup
// degrades to a placeholder rather than failing the caller.
package enrich

import (
	"context"
)

// BookMetadata is bibliographic data for one ISBN, owned by the external
// enrichment service. Never authoritative for reading-status fields.
type BookMetadata struct {
	Isbn        string `json:"isbn"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	CoverURL    string `json:"cover_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// BookResolver is the bibliographic enrichment collaborator, keyed by ISBN.
type BookResolver interface {
	LookupByIsbn(ctx context.Context, isbn string) (*BookMetadata, error)
	LookupByIsbns(ctx context.Context, isbns []string) (map[string]*BookMetadata, error)
}

// Profile contains user profile metadata (kind 0 content).
type Profile struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	About       string `json:"about,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
}

// BestName returns the preferred display name for a profile, falling back to
// a shortened pubkey and finally the generic placeholder.
func (p *Profile) BestName(pubkey string) string {
	if p != nil {
		if p.DisplayName != "" {
			return p.DisplayName
		}
		if p.Name != "" {
			return p.Name
		}
	}
	if len(pubkey) >= 12 {
		return pubkey[:12]
	}
	return UnknownAuthor
}

// Placeholder values substituted when an enrichment join fails.
const (
	UnknownAuthor = "Unknown Author"
	UnknownTitle  = "Unknown Title"
)

// ProfileResolver is the identity enrichment collaborator.
type ProfileResolver interface {
	LookupProfiles(ctx context.Context, pubkeys []string) (map[string]*Profile, error)
}
