// Package searchpipeline orchestrates the twelve-stage keyword-to-ranked-
// candidates flow: parse, rewrite, optional name conversion,
// cache lookup, alias enrichment, parallel provider search, type
// correction, season/alias filtering, ranking, optional AI correction,
// and cache store.
package searchpipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/danmuhub/internal/aimatcher"
	"github.com/tomtom215/danmuhub/internal/fuzzy"
	"github.com/tomtom215/danmuhub/internal/metadata"
	"github.com/tomtom215/danmuhub/internal/metrics"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/ratelimit"
	"github.com/tomtom215/danmuhub/internal/recognizer"
	"github.com/tomtom215/danmuhub/internal/repo"
	"github.com/tomtom215/danmuhub/internal/scraper"
)

const cacheTTL = 10_800 * time.Second

// aliasSimilarityFloor is the minimum fuzzy-similarity for a discovered
// alias to be retained during enrichment.
const aliasSimilarityFloor = 70.0

// aliasFilterFloor is the minimum partial-ratio against every validated
// alias a candidate must clear to survive the alias filter.
const aliasFilterFloor = 85.0

// cacheEntry is the JSON shape persisted at the provider_search_* cache
// key; episode index is stripped before storage
// and re-annotated on a cache hit.
type cacheEntry struct {
	Candidates []scraper.Candidate `json:"candidates"`
	StoredAt   time.Time           `json:"storedAt"`
}

var movieKeywords = []string{"movie", "剧场版", "劇場版", "映画"}

// NameConversionConfig controls the optional stage-3 behavior.
type NameConversionConfig struct {
	Enabled          bool
	MetadataPriority []models.MetadataIDKind
	AIConfig         *aimatcher.Config
	AIPrompts        aimatcher.Prompts
}

// Pipeline wires together every stage's collaborators.
type Pipeline struct {
	repo           repo.Repo
	recognizer     *recognizer.Recognizer
	metadataReg    *metadata.Registry
	scraperReg     *scraper.Registry
	limiter        *ratelimit.Limiter
	aiManager      *aimatcher.Manager
	metrics        *metrics.Registry
	log            zerolog.Logger
	nameConversion NameConversionConfig
}

// New builds a Pipeline from its collaborators.
func New(
	r repo.Repo,
	rec *recognizer.Recognizer,
	metadataReg *metadata.Registry,
	scraperReg *scraper.Registry,
	limiter *ratelimit.Limiter,
	aiManager *aimatcher.Manager,
	m *metrics.Registry,
	log zerolog.Logger,
	nameConversion NameConversionConfig,
) *Pipeline {
	return &Pipeline{
		repo: r, recognizer: rec, metadataReg: metadataReg, scraperReg: scraperReg,
		limiter: limiter, aiManager: aiManager, metrics: m, log: log,
		nameConversion: nameConversion,
	}
}

// Result is the pipeline's final output: ranked candidates plus the
// per-stage and per-scraper timings collected along the way.
type Result struct {
	Candidates []scraper.Candidate
	Timings    map[string]time.Duration
}

func (p *Pipeline) timeStage(name string, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if p.metrics != nil {
		p.metrics.SearchStageTime.WithLabelValues(name).Observe(d.Seconds())
	}
	return d
}

// Run executes all twelve stages for raw keyword input, holding the
// process-wide search lock for the duration.
func (p *Pipeline) Run(ctx context.Context, holderID, rawKeyword string) (*Result, error) {
	if !p.scraperReg.AcquireSearchLock(holderID) {
		return nil, fmt.Errorf("searchpipeline: search lock already held")
	}
	defer func() {
		if err := p.scraperReg.ReleaseSearchLock(holderID); err != nil {
			p.log.Warn().Err(err).Msg("search lock release mismatch")
		}
	}()

	timings := make(map[string]time.Duration)

	// Stage 1: parse keyword.
	var parsed ParsedKeyword
	timings["parse_keyword"] = p.timeStage("parse_keyword", func() {
		parsed = ParseKeyword(rawKeyword)
	})

	// Stage 2: pre-search rewrite.
	var subject recognizer.Subject
	timings["pre_search_rewrite"] = p.timeStage("pre_search_rewrite", func() {
		subject = p.recognizer.PreSearchRewrite(recognizer.Subject{
			Title: parsed.Title, Season: parsed.Season, Episode: parsed.Episode,
		})
	})
	titles := []string{subject.Title}

	// Stage 3: optional name conversion.
	timings["name_conversion"] = p.timeStage("name_conversion", func() {
		if p.nameConversion.Enabled && !IsChineseTitle(subject.Title) {
			if converted, ok := p.convertName(ctx, subject.Title); ok {
				titles = append(titles, converted)
			}
		}
	})

	season := "all"
	if subject.Season != nil {
		season = strconv.Itoa(*subject.Season)
	}
	cacheKey := fmt.Sprintf("provider_search_%s_%s", models.NormalizeTitle(subject.Title), season)
	aliasCacheKey := cacheKey + "_aliases"

	// Stage 4: cache lookup.
	var cached *cacheEntry
	timings["cache_lookup"] = p.timeStage("cache_lookup", func() {
		raw, ok, err := p.repo.CacheGet(ctx, cacheKey)
		if err != nil || !ok {
			return
		}
		var entry cacheEntry
		if jsonUnmarshal(raw, &entry) {
			cached = &entry
		}
	})
	if cached != nil {
		candidates := reannotateEpisode(cached.Candidates, subject.Episode)
		return &Result{Candidates: candidates, Timings: timings}, nil
	}

	// Stage 5: alias enrichment.
	var aliases []string
	timings["alias_enrichment"] = p.timeStage("alias_enrichment", func() {
		if p.metadataReg == nil || !p.metadataReg.Enabled() {
			return
		}
		if raw, ok, err := p.repo.CacheGet(ctx, aliasCacheKey); err == nil && ok {
			var cachedAliases []string
			if jsonUnmarshal(raw, &cachedAliases) {
				aliases = cachedAliases
				return
			}
		}
		aliases = p.enrichAliases(ctx, subject.Title)
		if payload, err := json.Marshal(aliases); err == nil {
			_ = p.repo.CacheSet(ctx, aliasCacheKey, string(payload), cacheTTL)
		}
	})
	searchTitles := append(append([]string{}, titles...), aliases...)

	// Stage 6: parallel provider search.
	var candidates []scraper.Candidate
	var scraperTimings map[string]time.Duration
	timings["provider_search"] = p.timeStage("provider_search", func() {
		candidates, scraperTimings = p.fanOutSearch(ctx, searchTitles, subject)
	})
	for provider, d := range scraperTimings {
		timings["scraper:"+provider] = d
	}

	// Stage 7: type correction by title.
	timings["type_correction"] = p.timeStage("type_correction", func() {
		for i := range candidates {
			if candidates[i].Type == models.MediaTypeTVSeries && containsMovieKeyword(candidates[i].Title) {
				candidates[i].Type = models.MediaTypeMovie
			}
		}
	})

	// Stage 8: season filter.
	timings["season_filter"] = p.timeStage("season_filter", func() {
		if subject.Season != nil {
			candidates = filterSeason(candidates, *subject.Season)
		}
	})

	// Stage 9: alias filter.
	timings["alias_filter"] = p.timeStage("alias_filter", func() {
		if len(aliases) > 0 {
			candidates = filterByAliases(candidates, aliases)
		}
	})

	// Stage 10: rank.
	timings["rank"] = p.timeStage("rank", func() {
		rankCandidates(candidates, subject.Title)
	})

	// Stage 11: optional AI correction.
	timings["ai_correction"] = p.timeStage("ai_correction", func() {
		if p.aiManager != nil && p.nameConversion.AIConfig != nil {
			p.aiCorrect(ctx, candidates, subject)
		}
	})

	// Stage 12: cache store, with episode index stripped.
	timings["cache_store"] = p.timeStage("cache_store", func() {
		stripped := make([]scraper.Candidate, len(candidates))
		copy(stripped, candidates)
		for i := range stripped {
			stripped[i].CurrentEpisodeIndex = nil
		}
		entry := cacheEntry{Candidates: stripped, StoredAt: time.Now()}
		if payload, err := json.Marshal(entry); err == nil {
			if err := p.repo.CacheSet(ctx, cacheKey, string(payload), cacheTTL); err != nil {
				p.log.Warn().Err(err).Msg("cache store failed")
			}
		}
	})

	return &Result{Candidates: candidates, Timings: timings}, nil
}

func jsonUnmarshal(raw string, v any) bool {
	return json.Unmarshal([]byte(raw), v) == nil
}

func reannotateEpisode(cached []scraper.Candidate, episode *int) []scraper.Candidate {
	out := make([]scraper.Candidate, len(cached))
	copy(out, cached)
	for i := range out {
		out[i].CurrentEpisodeIndex = episode
	}
	return out
}

func containsMovieKeyword(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range movieKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) || strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

func filterSeason(candidates []scraper.Candidate, season int) []scraper.Candidate {
	out := make([]scraper.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Type != models.MediaTypeTVSeries {
			continue
		}
		if c.Season != season {
			continue
		}
		out = append(out, c)
	}
	return out
}

func filterByAliases(candidates []scraper.Candidate, aliases []string) []scraper.Candidate {
	out := make([]scraper.Candidate, 0, len(candidates))
	for _, c := range candidates {
		normalized := models.NormalizeTitle(c.Title)
		ok := true
		for _, alias := range aliases {
			if fuzzy.PartialRatio(normalized, models.NormalizeTitle(alias)) < aliasFilterFloor {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}

func rankCandidates(candidates []scraper.Candidate, searchTitle string) {
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = fuzzy.TokenSetRatio(c.Title, searchTitle)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].DisplayOrder != candidates[j].DisplayOrder {
			return candidates[i].DisplayOrder < candidates[j].DisplayOrder
		}
		return scores[i] > scores[j]
	})
}

func (p *Pipeline) fanOutSearch(ctx context.Context, titles []string, subject recognizer.Subject) ([]scraper.Candidate, map[string]time.Duration) {
	providers := p.scraperReg.All()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var all []scraper.Candidate
	timings := make(map[string]time.Duration)

	hint := &scraper.EpisodeHint{Episode: subject.Episode, Season: subject.Season}

	for _, s := range providers {
		s := s
		if p.limiter != nil {
			res, err := p.limiter.Check(ctx, s.ProviderName())
			if err != nil || !res.OK {
				continue
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			results, err := s.Search(ctx, titles, hint)
			elapsed := time.Since(start)
			p.scraperReg.RecordTiming(s.ProviderName(), elapsed)
			if err != nil {
				p.log.Warn().Err(err).Str("provider", s.ProviderName()).Msg("provider search failed")
				return
			}
			if p.limiter != nil && len(results) > 0 {
				_ = p.limiter.Increment(ctx, s.ProviderName())
			}
			filtered := make([]scraper.Candidate, 0, len(results))
			for _, c := range results {
				if p.recognizer.Blocked(c.Title) {
					continue
				}
				filtered = append(filtered, c)
			}
			mu.Lock()
			all = append(all, filtered...)
			timings[s.ProviderName()] = elapsed
			mu.Unlock()
		}()
	}
	wg.Wait()
	return all, timings
}

func (p *Pipeline) enrichAliases(ctx context.Context, title string) []string {
	sources := p.metadataReg.All()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var aliases []string

	for _, src := range sources {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, err := src.SearchAliases(ctx, title)
			if err != nil {
				p.log.Debug().Err(err).Str("kind", string(src.Kind())).Msg("alias enrichment source failed")
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, a := range found {
				if fuzzy.TokenSetRatio(a.Title, title) > aliasSimilarityFloor {
					aliases = append(aliases, a.Title)
				}
			}
		}()
	}
	wg.Wait()
	return aliases
}

func (p *Pipeline) convertName(ctx context.Context, title string) (string, bool) {
	for _, kind := range p.nameConversion.MetadataPriority {
		src, ok := p.metadataReg.Get(kind)
		if !ok {
			continue
		}
		chineseTitle, found, err := src.ReverseLookupChineseTitle(ctx, title)
		if err == nil && found && IsChineseTitle(chineseTitle) {
			return chineseTitle, true
		}
	}
	if p.nameConversion.AIConfig != nil {
		matcher := p.aiManager.Get(*p.nameConversion.AIConfig, p.nameConversion.AIPrompts)
		reply, err := matcher.Query(ctx, p.nameConversion.AIPrompts.NameConversion+"\n\n"+title)
		if err == nil && IsChineseTitle(reply) {
			return strings.TrimSpace(reply), true
		}
	}
	return "", false
}

func (p *Pipeline) aiCorrect(ctx context.Context, candidates []scraper.Candidate, subject recognizer.Subject) {
	if len(candidates) == 0 {
		return
	}
	matcher := p.aiManager.Get(*p.nameConversion.AIConfig, p.nameConversion.AIPrompts)
	descriptions := make([]aimatcher.CandidateDescription, len(candidates))
	for i, c := range candidates {
		descriptions[i] = aimatcher.CandidateDescription{Index: i, Title: c.Title, Year: c.Year}
	}
	season := 1
	if subject.Season != nil {
		season = *subject.Season
	}
	idx, err := matcher.SelectMetadataResult(ctx, subject.Title, nil, descriptions, season, "")
	if err != nil || idx == nil {
		return
	}
	if *idx < 0 || *idx >= len(candidates) {
		return
	}
	if containsMovieKeyword(candidates[*idx].Title) {
		candidates[*idx].Type = models.MediaTypeMovie
	}
	candidates[*idx].Season = season
}
