// Package models defines the persisted and in-flight data shapes shared
// across the ingestion pipeline: library rows (Anime/Source/Episode),
// task bookkeeping, rate-limit state, and the normalized webhook job
// envelope.
package models

import (
	"strings"
	"time"
	"unicode"
)

// NormalizeTitle lowercases, strips punctuation/whitespace runs, and trims
// title, producing the form used for identity lookups and cache keys.
func NormalizeTitle(title string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastWasSpace = false
		case unicode.IsSpace(r):
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		default:
			// punctuation is dropped entirely, not replaced with a space
		}
	}
	return strings.TrimSpace(b.String())
}

// MediaType distinguishes a TV series from a movie.
type MediaType string

const (
	MediaTypeTVSeries MediaType = "tv_series"
	MediaTypeMovie    MediaType = "movie"
)

// Anime is a work in the library. Identity is (NormalizedTitle, Season, Year).
type Anime struct {
	ID              int64
	Title           string
	NormalizedTitle string
	MediaType       MediaType
	Season          int
	Year            *int
	ImageURL        string
	ImagePath       string
	CreatedAt       time.Time
}

// AnimeAliases holds the matching-only alternate names for an Anime.
type AnimeAliases struct {
	AnimeID int64
	CNAlias1 string
	CNAlias2 string
	CNAlias3 string
	EN       string
	JP       string
	Romaji   string
}

// MetadataIDKind enumerates the external catalogues an Anime can be linked to.
type MetadataIDKind string

const (
	MetadataTMDB    MetadataIDKind = "tmdb"
	MetadataTVDB    MetadataIDKind = "tvdb"
	MetadataIMDB    MetadataIDKind = "imdb"
	MetadataDouban  MetadataIDKind = "douban"
	MetadataBangumi MetadataIDKind = "bangumi"
)

// AnimeMetadata is one (anime, kind) -> external id row. Update-if-empty.
type AnimeMetadata struct {
	AnimeID int64
	Kind    MetadataIDKind
	ExternalID string
}

// Source is a provider binding for an Anime.
type Source struct {
	ID                        int64
	AnimeID                   int64
	Provider                  string
	MediaID                   string
	Favorited                 bool
	DisplayOrder              int
	IncrementalRefreshEnabled bool
	IncrementalRefreshFailures int
	CreatedAt                 time.Time
}

// MaxIncrementalRefreshFailures is the consecutive-failure threshold at
// which a source's incremental refresh is auto-disabled.
const MaxIncrementalRefreshFailures = 10

// Episode is a single danmaku-bearing unit under a Source.
type Episode struct {
	ID              int64
	SourceID        int64
	EpisodeIndex    int
	Title           string
	ProviderURL     string
	ProviderEpisodeID string
	DanmakuPath     *string
	CommentCount    int
}

// Present reports whether the episode already has danmaku on disk.
func (e Episode) Present() bool {
	return e.DanmakuPath != nil && *e.DanmakuPath != "" && e.CommentCount > 0
}

// Comment is a single danmaku line as persisted in the episode's blob file.
type Comment struct {
	TimestampS float64 `json:"timestamp_s"`
	StyleBlob  string  `json:"style_blob"`
	Text       string  `json:"text"`
}

// TaskStatus is the TaskRecord state-machine position.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether status cannot transition further on its own.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskRecord is the persisted history row for one submitted job.
type TaskRecord struct {
	ID         string
	Title      string
	UniqueKey  string
	Status     TaskStatus
	Progress   int
	Message    string
	TaskType   string
	Parameters string // serialized job parameters, for resume after restart
	ParentID   *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RateLimitState is one persisted bucket counter.
type RateLimitState struct {
	Key            string
	RequestCount   int
	LastResetTime  time.Time
}

const (
	BucketGlobal         = "__global__"
	BucketFallbackMatch  = "__fallback_match__"
	BucketFallbackSearch = "__fallback_search__"
)

// ConfigDescriptor documents one operator-editable ConfigStore key.
type ConfigDescriptor struct {
	Key         string
	Kind        string // boolean | integer | string | text
	Default     string
	Description string
}

// WebhookQueueRow backs the delayed-import drain.
type WebhookQueueRow struct {
	ID         int64
	Job        string // serialized WebhookJob
	RunAt      time.Time
	Dispatched bool
}

// SchedulerTaskRow backs the scheduler->execution task bridge.
type SchedulerTaskRow struct {
	ID                string
	Name              string
	CronExpr          string
	LastRunAt         *time.Time
	NextRunAt         time.Time
	ExecutionTaskID   *string
}

// ExternalAPILogRow records one control-API authentication attempt.
type ExternalAPILogRow struct {
	ID        int64
	Endpoint  string
	APIKeyID  string
	Status    int
	CreatedAt time.Time
}

// WebhookJob is the normalized envelope every media-server payload is
// flattened into before any dispatch logic runs.
type WebhookJob struct {
	MediaType     MediaType
	Title         string
	Season        int
	EpisodeIndex  *int
	Year          *int
	IDs           map[MetadataIDKind]string
	IsFullSeason  bool
	SourceServer  string // emby | jellyfin | plex | tautulli
}
