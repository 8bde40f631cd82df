package importengine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tomtom215/danmuhub/internal/aimatcher"
	"github.com/tomtom215/danmuhub/internal/fuzzy"
	"github.com/tomtom215/danmuhub/internal/metadata"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/recognizer"
	"github.com/tomtom215/danmuhub/internal/repo"
	"github.com/tomtom215/danmuhub/internal/scraper"
	"github.com/tomtom215/danmuhub/internal/searchpipeline"
	"github.com/tomtom215/danmuhub/internal/taskmanager"
)

// AutoRequest is the input to RunAuto: a search term plus the optional
// season/episode narrowing POST /import/auto accepts.
type AutoRequest struct {
	SearchType string // keyword, tmdb, tvdb, douban, imdb, bangumi
	SearchTerm string
	Season     *int
	Episode    *int
	MediaType  models.MediaType
}

// AutoCollaborators bundles the extra components the auto-import outer
// policy leans on beyond the generic engine's own.
type AutoCollaborators struct {
	Pipeline    *searchpipeline.Pipeline
	MetadataReg *metadata.Registry
	Recognizer  *recognizer.Recognizer
	AIManager   *aimatcher.Manager
	AIConfig    *aimatcher.Config
	AIPrompts   aimatcher.Prompts
}

// RunAuto wraps SearchPipeline with the library-check and best-match outer
// policy: resolve a canonical title (optionally via a metadata id lookup
// and TMDB reverse lookup), check the library before ever searching, and
// otherwise rank SearchPipeline's candidates and run the generic import
// against the winner.
func (e *Engine) RunAuto(ctx context.Context, ctl *taskmanager.Control, c AutoCollaborators, req AutoRequest) (*Report, error) {
	title := req.SearchTerm
	var year *int

	searchType := effectiveSearchType(req.SearchType, req.SearchTerm)

	if kind := models.MetadataIDKind(strings.ToLower(searchType)); c.MetadataReg != nil {
		if src, ok := c.MetadataReg.Get(kind); ok {
			if details, err := src.GetDetails(ctx, req.SearchTerm, req.MediaType); err == nil && details != nil {
				title = details.Title
				year = details.Year
				if !searchpipeline.IsChineseTitle(title) {
					if cn, ok, err := src.ReverseLookupChineseTitle(ctx, req.SearchTerm); err == nil && ok {
						title = cn
					}
				}
			}
		}
	}

	season := 1
	if req.Season != nil {
		season = *req.Season
	}
	normalized := models.NormalizeTitle(title)

	anime, err := e.findLibraryAnime(ctx, req, searchType, normalized, season, year)
	if err != nil {
		return nil, fmt.Errorf("importengine: auto library lookup: %w", err)
	}
	if anime != nil {
		return e.runAgainstLibrary(ctx, ctl, anime, req)
	}

	if c.Pipeline == nil {
		return nil, fmt.Errorf("importengine: no library match and no search pipeline configured")
	}
	result, err := c.Pipeline.Run(ctx, ctl.TaskID(), title)
	if err != nil {
		return nil, fmt.Errorf("importengine: auto search: %w", err)
	}
	if len(result.Candidates) == 0 {
		return nil, fmt.Errorf("importengine: auto search returned no candidates for %q", title)
	}

	ranked := rankAutoCandidates(result.Candidates, title, year)
	if c.AIManager != nil && c.AIConfig != nil {
		if best := aiReorder(ctx, c, ranked, title, req.Season, req.Episode); best > 0 {
			ranked[0], ranked[best] = ranked[best], ranked[0]
		}
	}

	var lastErr error
	for _, cand := range ranked {
		request := Request{
			Provider: cand.Provider, MediaID: cand.MediaID, Title: title,
			MediaType: cand.Type, Season: cand.Season, Year: cand.Year,
			ImageURL: cand.ImageURL, EpisodeIndex: req.Episode,
		}
		if req.Episode != nil {
			request.SelectedEpisodes = []int{*req.Episode}
		}
		report, runErr := e.Run(ctx, ctl, request)
		if runErr == nil {
			return report, nil
		}
		lastErr = runErr
	}
	return nil, fmt.Errorf("importengine: no candidate produced a usable episode: %w", lastErr)
}

// findLibraryAnime looks the work up by metadata id first (when the search
// was an id lookup), then by (title, season, year) identity.
func (e *Engine) findLibraryAnime(ctx context.Context, req AutoRequest, searchType, normalizedTitle string, season int, year *int) (*models.Anime, error) {
	if kind := models.MetadataIDKind(strings.ToLower(searchType)); kind != "" && isMetadataKind(kind) {
		if anime, err := e.repo.GetAnimeByMetadataID(ctx, repo.MetadataLookup{Kind: kind, ID: req.SearchTerm, Season: season}); err != nil {
			return nil, err
		} else if anime != nil {
			return anime, nil
		}
	}
	return e.repo.GetAnimeByIdentity(ctx, repo.AnimeLookup{NormalizedTitle: normalizedTitle, Season: season, Year: year})
}

// effectiveSearchType promotes a plain-keyword request to a TMDB id lookup
// when the term is entirely digits: an operator pasting a bare numeric id
// into the keyword field means "this is a TMDB id", not a literal title.
func effectiveSearchType(searchType, searchTerm string) string {
	if strings.ToLower(searchType) != "keyword" {
		return searchType
	}
	if searchTerm == "" {
		return searchType
	}
	for _, r := range searchTerm {
		if r < '0' || r > '9' {
			return searchType
		}
	}
	return string(models.MetadataTMDB)
}

func isMetadataKind(k models.MetadataIDKind) bool {
	switch k {
	case models.MetadataTMDB, models.MetadataTVDB, models.MetadataIMDB, models.MetadataDouban, models.MetadataBangumi:
		return true
	default:
		return false
	}
}

// runAgainstLibrary handles a library hit: a full-season request (no
// episode given) is an immediate success; otherwise only the missing
// episode is imported against the favorited (or lowest display_order)
// source.
func (e *Engine) runAgainstLibrary(ctx context.Context, ctl *taskmanager.Control, anime *models.Anime, req AutoRequest) (*Report, error) {
	if req.Episode == nil {
		return nil, taskmanager.TaskSuccess(fmt.Sprintf("%s already in library", anime.Title))
	}

	sources, err := e.repo.ListSources(ctx, anime.ID)
	if err != nil {
		return nil, fmt.Errorf("importengine: list sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("importengine: anime %d has no sources", anime.ID)
	}
	source := pickSource(sources)

	if existing, err := e.repo.GetEpisode(ctx, source.ID, *req.Episode); err == nil && existing != nil && existing.Present() {
		return nil, taskmanager.TaskSuccess(fmt.Sprintf("%s episode %d already present", anime.Title, *req.Episode))
	}

	animeID := anime.ID
	request := Request{
		Provider: source.Provider, MediaID: source.MediaID, Title: anime.Title,
		MediaType: anime.MediaType, Season: anime.Season, Year: anime.Year,
		EpisodeIndex: req.Episode, SelectedEpisodes: []int{*req.Episode},
		PreassignedAnimeID: &animeID,
	}
	return e.Run(ctx, ctl, request)
}

func pickSource(sources []models.Source) models.Source {
	for _, s := range sources {
		if s.Favorited {
			return s
		}
	}
	best := sources[0]
	for _, s := range sources[1:] {
		if s.DisplayOrder < best.DisplayOrder {
			best = s
		}
	}
	return best
}

// rankAutoCandidates sorts candidates by: year match, exact title match,
// fuzzy token-set similarity, a penalty when a requested year disagrees
// with the candidate's, display_order descending as the final tie-breaker.
func rankAutoCandidates(candidates []scraper.Candidate, title string, year *int) []scraper.Candidate {
	type scored struct {
		candidate scraper.Candidate
		score     float64
	}
	scores := make([]scored, len(candidates))
	for i, cand := range candidates {
		var s float64
		if year != nil && cand.Year != nil && *cand.Year == *year {
			s += 10000
		}
		if strings.EqualFold(cand.Title, title) {
			s += 1000
		}
		s += fuzzy.TokenSetRatio(cand.Title, title)
		if year != nil && cand.Year != nil && *cand.Year != *year {
			s -= 1000
		}
		scores[i] = scored{candidate: cand, score: s}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].candidate.DisplayOrder > scores[j].candidate.DisplayOrder
	})
	out := make([]scraper.Candidate, len(scores))
	for i, s := range scores {
		out[i] = s.candidate
	}
	return out
}

// aiReorder asks the configured AI matcher to pick among the ranked
// candidates, returning the index to promote to the front, or 0 (no
// change) if the model declines or errors.
func aiReorder(ctx context.Context, c AutoCollaborators, ranked []scraper.Candidate, title string, season, episode *int) int {
	descs := make([]aimatcher.CandidateDescription, len(ranked))
	for i, cand := range ranked {
		descs[i] = aimatcher.CandidateDescription{Index: i, Title: cand.Title, Year: cand.Year}
	}
	var favorited *aimatcher.CandidateDescription
	matcher := c.AIManager.Get(*c.AIConfig, c.AIPrompts)
	idx, err := matcher.SelectBestMatch(ctx, aimatcher.QueryInfo{Title: title, Season: season, Episode: episode}, descs, favorited)
	if err != nil || idx == nil || *idx < 0 || *idx >= len(ranked) {
		return 0
	}
	return *idx
}
