// Package scraper defines the third-party video-platform adapter trait
// and the registry that holds them, including the process-wide
// exclusive search lock shared by the SearchPipeline and automatic import.
package scraper

import (
	"context"

	"github.com/tomtom215/danmuhub/internal/models"
)

// Candidate is one search result returned by a provider.
type Candidate struct {
	Provider            string
	MediaID             string
	Title               string
	Type                models.MediaType
	Season              int
	Year                *int
	ImageURL            string
	CurrentEpisodeIndex *int
	DisplayOrder        int
}

// EpisodeDescriptor is one episode entry from get_episodes.
type EpisodeDescriptor struct {
	Index             int
	Title             string
	ProviderURL       string
	ProviderEpisodeID string
}

// ProgressFunc reports fractional download progress, 0..1.
type ProgressFunc func(fraction float64)

// Scraper is the provider adapter trait.
type Scraper interface {
	ProviderName() string

	// RateLimitQuota returns the provider's declared per-window quota, or
	// nil for unlimited.
	RateLimitQuota() *int

	Search(ctx context.Context, titles []string, episodeInfo *EpisodeHint) ([]Candidate, error)

	GetEpisodes(ctx context.Context, mediaID string, targetEpisode *int, mediaType models.MediaType) ([]EpisodeDescriptor, error)

	// GetComments returns the full comment list, or nil on hard failure.
	// Never returns a partial list.
	GetComments(ctx context.Context, episodeID string, progress ProgressFunc) ([]models.Comment, error)

	// GetInfoFromURL and GetIDFromURL are optional; implementations that
	// don't support URL import return ErrUnsupported.
	GetInfoFromURL(ctx context.Context, url string) (*Candidate, error)
	GetIDFromURL(ctx context.Context, url string) (string, error)
}

// EpisodeHint narrows a search to a specific episode/season when known.
type EpisodeHint struct {
	Episode *int
	Season  *int
}

// ErrUnsupported is returned by optional Scraper methods an adapter does
// not implement.
var ErrUnsupported = unsupportedErr{}

type unsupportedErr struct{}

func (unsupportedErr) Error() string { return "scraper: operation not supported by this provider" }
