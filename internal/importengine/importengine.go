// Package importengine implements the generic import job and its Edited,
// Auto, and Manual/URL/XML variants: a phased pipeline (enumerate,
// validate, iterate) writing each episode through two repo calls (an
// episode upsert, then the danmaku write; the two are not one transaction),
// reporting progress through a callback shape suited to long-running media
// scans.
package importengine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomtom215/danmuhub/internal/fuzzy"
	"github.com/tomtom215/danmuhub/internal/metrics"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/ratelimit"
	"github.com/tomtom215/danmuhub/internal/recognizer"
	"github.com/tomtom215/danmuhub/internal/repo"
	"github.com/tomtom215/danmuhub/internal/scraper"
	"github.com/tomtom215/danmuhub/internal/taskmanager"
)

// Request is the canonical "generic import" job input.
type Request struct {
	Provider            string
	MediaID             string
	Title               string
	MediaType           models.MediaType
	Season              int
	Year                *int
	ImageURL            string
	EpisodeIndex        *int
	SelectedEpisodes    []int
	MetadataIDs         map[models.MetadataIDKind]string
	IsFallback          bool
	PreassignedAnimeID  *int64

	// SmartRefresh opts into Phase C's overwrite-only-if-larger behavior.
	SmartRefresh bool
	// IncrementalRefreshSourceID, when set, drives Phase D bookkeeping.
	IncrementalRefreshSourceID *int64
}

// EpisodeOutcome is one per-episode result bucket.
type EpisodeOutcome struct {
	Index  int
	Kind   string // successful, skipped, failed
	Reason string
}

// Report is the terminal human-readable summary.
type Report struct {
	Outcomes      []EpisodeOutcome
	ImageWarning  string
}

// ImageDownloader fetches and stores a cover image, returning a local path.
type ImageDownloader interface {
	Download(ctx context.Context, url string) (path string, err error)
}

// Engine runs import jobs against the shared collaborators.
type Engine struct {
	repo       repo.Repo
	scrapers   *scraper.Registry
	limiter    *ratelimit.Limiter
	recognizer *recognizer.Recognizer
	images     ImageDownloader
	metrics    *metrics.Registry
	log        zerolog.Logger
}

// New builds an Engine.
func New(r repo.Repo, scrapers *scraper.Registry, limiter *ratelimit.Limiter, rec *recognizer.Recognizer, images ImageDownloader, m *metrics.Registry, log zerolog.Logger) *Engine {
	return &Engine{repo: r, scrapers: scrapers, limiter: limiter, recognizer: rec, images: images, metrics: m, log: log}
}

const boundedConcurrencyWorkers = 3
const maxIncrementalRefreshFailures = models.MaxIncrementalRefreshFailures

// Run executes the full generic-import job,
// reporting progress through ctl.
func (e *Engine) Run(ctx context.Context, ctl *taskmanager.Control, req Request) (*Report, error) {
	src, ok := e.scrapers.Get(req.Provider)
	if !ok {
		return nil, fmt.Errorf("importengine: unknown provider %q", req.Provider)
	}

	// Phase A: episode enumeration.
	episodes, err := e.enumerateEpisodes(ctx, src, req)
	if err != nil {
		return nil, fmt.Errorf("importengine: enumerate episodes: %w", err)
	}
	if len(episodes) == 0 {
		return &Report{}, nil
	}

	if len(req.SelectedEpisodes) > 0 {
		episodes = filterByIndices(episodes, req.SelectedEpisodes)
		if allPresent(ctx, e.repo, req.Provider, req.MediaID, episodes) {
			return &Report{Outcomes: []EpisodeOutcome{{Kind: "skipped", Reason: summarizeRanges(indicesOf(episodes))}}}, nil
		}
	}

	// Phase B: source validation, proven by episode 1 (or the sole target).
	target := episodes[0]
	comments, err := src.GetComments(ctx, target.ProviderEpisodeID, nil)
	if err != nil || len(comments) == 0 {
		return &Report{Outcomes: []EpisodeOutcome{{Index: target.Index, Kind: "failed", Reason: "first episode fetch produced no comments"}}}, nil
	}

	animeID, sourceID, imageWarning, err := e.establishLibraryRows(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("importengine: establish library rows: %w", err)
	}

	// Phase C: iterative download.
	outcomes := e.iterativeDownload(ctx, ctl, src, req, sourceID, episodes)

	// Phase D: incremental-refresh bookkeeping.
	if req.IncrementalRefreshSourceID != nil {
		if err := e.bookkeepIncrementalRefresh(ctx, *req.IncrementalRefreshSourceID, outcomes); err != nil {
			e.log.Warn().Err(err).Msg("incremental refresh bookkeeping failed")
		}
	}

	_ = animeID
	return &Report{Outcomes: outcomes, ImageWarning: imageWarning}, nil
}

func (e *Engine) enumerateEpisodes(ctx context.Context, src scraper.Scraper, req Request) ([]scraper.EpisodeDescriptor, error) {
	episodes, err := src.GetEpisodes(ctx, req.MediaID, req.EpisodeIndex, req.MediaType)
	if err != nil {
		return nil, err
	}
	if len(episodes) > 0 || req.EpisodeIndex == nil {
		return episodes, nil
	}

	// Provider-level failover: no enumerable episodes but a single index
	// was targeted; try a direct comment fetch.
	comments, cerr := src.GetComments(ctx, req.MediaID, nil)
	if cerr != nil || len(comments) == 0 {
		return nil, nil
	}
	return []scraper.EpisodeDescriptor{{
		Index: *req.EpisodeIndex, Title: fmt.Sprintf("第%d集", *req.EpisodeIndex), ProviderEpisodeID: "failover",
	}}, nil
}

func filterByIndices(episodes []scraper.EpisodeDescriptor, indices []int) []scraper.EpisodeDescriptor {
	want := make(map[int]bool, len(indices))
	for _, i := range indices {
		want[i] = true
	}
	out := make([]scraper.EpisodeDescriptor, 0, len(indices))
	for _, ep := range episodes {
		if want[ep.Index] {
			out = append(out, ep)
		}
	}
	return out
}

func allPresent(ctx context.Context, r repo.Repo, provider, mediaID string, episodes []scraper.EpisodeDescriptor) bool {
	srcRow, err := r.FindSourceByProviderMedia(ctx, provider, mediaID)
	if err != nil || srcRow == nil {
		return false
	}
	for _, ep := range episodes {
		row, err := r.GetEpisode(ctx, srcRow.ID, ep.Index)
		if err != nil || row == nil || !row.Present() {
			return false
		}
	}
	return true
}

func indicesOf(episodes []scraper.EpisodeDescriptor) []int {
	out := make([]int, len(episodes))
	for i, ep := range episodes {
		out[i] = ep.Index
	}
	return out
}

// summarizeRanges renders a sorted index list as "1-3, 5, 8-10".
func summarizeRanges(indices []int) string {
	if len(indices) == 0 {
		return ""
	}
	sorted := append([]int{}, indices...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	var ranges []string
	start := sorted[0]
	prev := sorted[0]
	for _, n := range sorted[1:] {
		if n == prev+1 {
			prev = n
			continue
		}
		ranges = append(ranges, rangeString(start, prev))
		start, prev = n, n
	}
	ranges = append(ranges, rangeString(start, prev))
	return strings.Join(ranges, ", ")
}

func rangeString(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}

func (e *Engine) establishLibraryRows(ctx context.Context, req Request) (animeID int64, sourceID int64, imageWarning string, err error) {
	if req.PreassignedAnimeID != nil {
		animeID = *req.PreassignedAnimeID
	} else {
		normalized := models.NormalizeTitle(req.Title)
		subject := e.recognizer.StoragePostProcess(recognizer.Subject{Title: req.Title, Season: &req.Season})
		existing, lookupErr := e.repo.GetAnimeByIdentity(ctx, repo.AnimeLookup{NormalizedTitle: normalized, Season: req.Season, Year: req.Year})
		if lookupErr != nil {
			return 0, 0, "", lookupErr
		}
		if existing != nil {
			animeID = existing.ID
		} else {
			imagePath := ""
			if req.ImageURL != "" && e.images != nil {
				path, derr := e.images.Download(ctx, req.ImageURL)
				if derr != nil {
					imageWarning = "image download failed: " + derr.Error()
				} else {
					imagePath = path
				}
			}
			animeID, err = e.repo.CreateAnime(ctx, &models.Anime{
				Title: subject.Title, NormalizedTitle: normalized, MediaType: req.MediaType,
				Season: req.Season, Year: req.Year, ImageURL: req.ImageURL, ImagePath: imagePath,
			})
			if err != nil {
				return 0, 0, imageWarning, err
			}
		}
	}

	for kind, id := range req.MetadataIDs {
		if err := e.repo.UpsertAnimeMetadata(ctx, animeID, kind, id); err != nil {
			return animeID, 0, imageWarning, err
		}
	}

	existingSource, err := e.repo.GetSourceByProvider(ctx, animeID, req.Provider, req.MediaID)
	if err != nil {
		return animeID, 0, imageWarning, err
	}
	if existingSource != nil {
		return animeID, existingSource.ID, imageWarning, nil
	}
	sourceID, err = e.repo.CreateSource(ctx, &models.Source{AnimeID: animeID, Provider: req.Provider, MediaID: req.MediaID})
	return animeID, sourceID, imageWarning, err
}

func (e *Engine) fetchAndStore(ctx context.Context, src scraper.Scraper, req Request, sourceID int64, ep scraper.EpisodeDescriptor) (EpisodeOutcome, error) {
	if e.limiter != nil {
		res, lerr := e.limiter.Check(ctx, req.Provider)
		if lerr != nil {
			return EpisodeOutcome{}, lerr
		}
		if !res.OK {
			return EpisodeOutcome{}, ratelimit.ExceededError{RetryAfter: res.RetryAfter}
		}
	}

	comments, err := src.GetComments(ctx, ep.ProviderEpisodeID, nil)
	if err != nil {
		return EpisodeOutcome{Index: ep.Index, Kind: "failed", Reason: shortError(err)}, nil
	}
	if e.limiter != nil && len(comments) > 0 {
		_ = e.limiter.Increment(ctx, req.Provider)
	}
	if len(comments) == 0 {
		return EpisodeOutcome{Index: ep.Index, Kind: "failed", Reason: "no comments returned"}, nil
	}

	existing, err := e.repo.GetEpisode(ctx, sourceID, ep.Index)
	if err != nil {
		return EpisodeOutcome{}, err
	}
	if req.SmartRefresh && existing != nil && existing.CommentCount >= len(comments) {
		return EpisodeOutcome{Index: ep.Index, Kind: "skipped", Reason: "smart refresh: no improvement"}, nil
	}

	canonicalIndex := e.recognizer.InFlightEpisode(ep.Title, ep.Index)
	episodeID, err := e.repo.UpsertEpisode(ctx, &models.Episode{SourceID: sourceID, EpisodeIndex: canonicalIndex, Title: ep.Title, ProviderEpisodeID: ep.ProviderEpisodeID})
	if err != nil {
		return EpisodeOutcome{}, err
	}
	if _, err := e.repo.WriteDanmaku(ctx, episodeID, "", comments); err != nil {
		return EpisodeOutcome{}, err
	}
	return EpisodeOutcome{Index: ep.Index, Kind: "successful"}, nil
}

func shortError(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if runes := []rune(msg); len(runes) > 100 {
		return string(runes[:100])
	}
	return msg
}
