// Package domain holds the types passed between the search, access and feed layers.
package domain

import "time"

// Status is the archived/withdrawn/discoverable triple carried by every hit.
type Status struct {
	Archived     bool `json:"archived"`
	Withdrawn    bool `json:"withdrawn"`
	Discoverable bool `json:"discoverable"`
}

// RawHit is one search result as returned by the index.
type RawHit struct {
	ID           string    `json:"id"`
	Handle       string    `json:"handle"`
	Title        string    `json:"title,omitempty"`
	LastModified time.Time `json:"last_modified"`
	Status       Status    `json:"status"`
}

// VettedItem is a hit that passed the access filter. It carries the same
// fields as the hit and nothing more.
type VettedItem struct {
	ID           string    `json:"id"`
	Handle       string    `json:"handle"`
	Title        string    `json:"title,omitempty"`
	LastModified time.Time `json:"last_modified"`
	Status       Status    `json:"status"`
}

// Vet converts a hit that passed filtering.
func Vet(h RawHit) VettedItem {
	return VettedItem(h)
}

// Version is the fingerprint component for the item.
func (v VettedItem) Version() string {
	return v.LastModified.UTC().Format(time.RFC3339Nano)
}

// SearchResult is an ordered page of hits plus side channels.
type SearchResult struct {
	Hits       []RawHit                       `json:"hits"`
	TotalHits  int64                          `json:"total_hits"`
	Highlights map[string]map[string][]string `json:"highlights,omitempty"`
	Collapsed  map[string][]string            `json:"collapsed,omitempty"`
	Suggestion string                         `json:"suggestion,omitempty"`
	TookMs     int64                          `json:"took_ms"`
}

// ScopeType classifies a handle.
type ScopeType string

const (
	ScopeCommunity  ScopeType = "community"
	ScopeCollection ScopeType = "collection"
	ScopeItem       ScopeType = "item"
)

// Scope is a node of the content hierarchy that a search is restricted to.
type Scope struct {
	Handle string    `db:"handle"        json:"handle"`
	Type   ScopeType `db:"resource_type" json:"type"`
	Name   string    `db:"name"          json:"name"`
}

// IsContainer reports whether the scope can hold items.
func (s *Scope) IsContainer() bool {
	return s.Type == ScopeCommunity || s.Type == ScopeCollection
}
