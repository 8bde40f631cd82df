// Package metadata defines the external catalogue adapter trait
// (TMDB/TVDB/Bangumi/IMDB/Douban) and the registry holding them, used by
// the SearchPipeline for alias enrichment and name conversion, and by the
// import engine for reverse lookup.
package metadata

import (
	"context"
	"sync"

	"github.com/tomtom215/danmuhub/internal/models"
)

// Alias is a candidate alternate title discovered from a metadata source.
type Alias struct {
	Title      string
	Similarity float64 // fuzzy-similarity 0..100 against the search title
}

// Details is a canonical title/year/season answer from a metadata source.
type Details struct {
	Title  string
	Year   *int
	Season int
	Type   models.MediaType
}

// Source is the metadata adapter trait.
type Source interface {
	Kind() models.MetadataIDKind

	// SearchAliases returns candidate alternate titles for title.
	SearchAliases(ctx context.Context, title string) ([]Alias, error)

	// GetDetails fetches canonical details by external id, trying tv then
	// movie media type when mediaType is empty.
	GetDetails(ctx context.Context, externalID string, mediaType models.MediaType) (*Details, error)

	// ReverseLookupChineseTitle maps an id (or external-ids search) to a
	// Chinese title, used by the TMDB reverse-lookup step.
	ReverseLookupChineseTitle(ctx context.Context, externalID string) (string, bool, error)
}

// Registry holds metadata adapters keyed by kind.
type Registry struct {
	mu      sync.RWMutex
	sources map[models.MetadataIDKind]Source
	// priority is the configured order for name-conversion lookups.
	priority []models.MetadataIDKind
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[models.MetadataIDKind]Source)}
}

// Register adds or replaces an adapter.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Kind()] = s
}

// Get returns the adapter for kind, or false if not registered.
func (r *Registry) Get(kind models.MetadataIDKind) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[kind]
	return s, ok
}

// All returns every registered adapter.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// SetPriority configures the name-conversion lookup order.
func (r *Registry) SetPriority(order []models.MetadataIDKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priority = order
}

// Priority returns the configured name-conversion lookup order, adapters
// not present in the registry are skipped by the caller.
func (r *Registry) Priority() []models.MetadataIDKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.MetadataIDKind, len(r.priority))
	copy(out, r.priority)
	return out
}

// Enabled reports whether any metadata source is registered.
func (r *Registry) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources) > 0
}
