// Package webhook normalizes Emby, Jellyfin, Plex, and Tautulli payloads
// into the common WebhookJob envelope, applies the configured filter, and
// dispatches immediately or via the delayed-import queue.
package webhook

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/danmuhub/internal/metrics"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/repo"
)

// FilterMode selects how webhookFilterRegex is applied.
type FilterMode string

const (
	FilterBlacklist FilterMode = "blacklist"
	FilterWhitelist FilterMode = "whitelist"
)

// Config controls filtering and delayed dispatch.
type Config struct {
	FilterPattern   string
	FilterMode      FilterMode
	DelayedEnabled  bool
	DelayedHours    float64
}

// Dispatcher normalizes incoming payloads and hands WebhookJobs off to
// either the delayed queue or an immediate submit function.
type Dispatcher struct {
	repo    repo.Repo
	metrics *metrics.Registry
	log     zerolog.Logger
	cfg     Config
	filter  *regexp.Regexp

	// Submit enqueues a job for immediate execution (wired to the import
	// engine / task manager by the caller at startup).
	Submit func(ctx context.Context, job models.WebhookJob) error
}

// New builds a Dispatcher, compiling the filter regex once.
func New(r repo.Repo, m *metrics.Registry, log zerolog.Logger, cfg Config, submit func(ctx context.Context, job models.WebhookJob) error) (*Dispatcher, error) {
	d := &Dispatcher{repo: r, metrics: m, log: log, cfg: cfg, Submit: submit}
	if cfg.FilterPattern != "" {
		re, err := regexp.Compile(cfg.FilterPattern)
		if err != nil {
			return nil, fmt.Errorf("webhook: compile filter pattern: %w", err)
		}
		d.filter = re
	}
	return d, nil
}

// passesFilter applies the blacklist/whitelist rule to a job's title.
func (d *Dispatcher) passesFilter(job models.WebhookJob) bool {
	if d.filter == nil {
		return true
	}
	matches := d.filter.MatchString(job.Title)
	if d.cfg.FilterMode == FilterWhitelist {
		return matches
	}
	return !matches // blacklist: drop matches
}

// Handle normalizes a source payload, applies the filter, and dispatches
// each resulting job.
func (d *Dispatcher) Handle(ctx context.Context, source string, rawBody []byte) error {
	jobs, err := normalize(source, rawBody)
	if err != nil {
		return fmt.Errorf("webhook: normalize %s payload: %w", source, err)
	}

	accepted := 0
	for _, job := range jobs {
		if !d.passesFilter(job) {
			continue
		}
		accepted++
		if err := d.dispatch(ctx, job); err != nil {
			d.log.Error().Err(err).Str("source", source).Str("title", job.Title).Msg("webhook job dispatch failed")
		}
	}
	if d.metrics != nil {
		d.metrics.WebhookReceived.WithLabelValues(source, "false").Add(float64(accepted))
		d.metrics.WebhookReceived.WithLabelValues(source, "true").Add(float64(len(jobs) - accepted))
	}
	d.log.Debug().Str("source", source).Int("jobs", len(jobs)).Int("accepted", accepted).Msg("webhook payload processed")
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, job models.WebhookJob) error {
	if !d.cfg.DelayedEnabled {
		return d.Submit(ctx, job)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("webhook: marshal delayed job: %w", err)
	}
	runAt := time.Now().Add(time.Duration(d.cfg.DelayedHours * float64(time.Hour)))
	_, err = d.repo.EnqueueWebhookJob(ctx, string(payload), runAt)
	return err
}

func normalize(source string, rawBody []byte) ([]models.WebhookJob, error) {
	switch strings.ToLower(source) {
	case "emby":
		return normalizeEmby(rawBody)
	case "jellyfin":
		return normalizeJellyfin(rawBody)
	case "plex":
		return normalizePlex(rawBody)
	case "tautulli":
		return normalizeTautulli(rawBody)
	default:
		return nil, fmt.Errorf("unknown webhook source %q", source)
	}
}

// parseProviderIDs extracts tmdb/imdb/tvdb/douban/bangumi ids from a
// ProviderIds-style map, case-insensitively.
func parseProviderIDs(raw map[string]string) map[models.MetadataIDKind]string {
	out := make(map[models.MetadataIDKind]string)
	for k, v := range raw {
		switch strings.ToLower(k) {
		case "tmdb":
			out[models.MetadataTMDB] = v
		case "imdb":
			out[models.MetadataIMDB] = v
		case "tvdb":
			out[models.MetadataTVDB] = v
		case "douban":
			out[models.MetadataDouban] = v
		case "bangumi":
			out[models.MetadataBangumi] = v
		}
	}
	return out
}

// parseEpisodeRanges parses Tautulli-style multi-episode strings like
// "1-3,6,8,10-13" into a sorted, deduplicated list of positive indices.
func parseEpisodeRanges(spec string) []int {
	var out []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			start, err1 := strconv.Atoi(strings.TrimSpace(bounds[0]))
			end, err2 := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err1 != nil || err2 != nil || end < start {
				continue
			}
			for i := start; i <= end; i++ {
				out = append(out, i)
			}
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return sortUniquePositive(out)
}

// sortUniquePositive sorts nums ascending, drops duplicates, and filters
// out non-positive values.
func sortUniquePositive(nums []int) []int {
	sort.Ints(nums)
	out := make([]int, 0, len(nums))
	for _, n := range nums {
		if n <= 0 {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == n {
			continue
		}
		out = append(out, n)
	}
	return out
}
