// Package repo defines the narrow persistence interface the core pipeline
// consumes and a modernc.org/sqlite-backed implementation.
// Everything outside this package talks to storage only through Repo.
package repo

import (
	"context"
	"time"

	"github.com/tomtom215/danmuhub/internal/models"
)

// AnimeLookup identifies an Anime by its immutable identity triple.
type AnimeLookup struct {
	NormalizedTitle string
	Season          int
	Year            *int
}

// MetadataLookup identifies an Anime via a linked external catalogue id.
type MetadataLookup struct {
	Kind   models.MetadataIDKind
	ID     string
	Season int
}

// Repo is the single persistence seam for the pipeline.
type Repo interface {
	// Anime / Source / Episode
	GetAnimeByIdentity(ctx context.Context, lookup AnimeLookup) (*models.Anime, error)
	GetAnimeByMetadataID(ctx context.Context, lookup MetadataLookup) (*models.Anime, error)
	GetAnime(ctx context.Context, id int64) (*models.Anime, error)
	CreateAnime(ctx context.Context, a *models.Anime) (int64, error)
	UpsertAnimeMetadata(ctx context.Context, animeID int64, kind models.MetadataIDKind, externalID string) error

	GetSource(ctx context.Context, id int64) (*models.Source, error)
	GetSourceByProvider(ctx context.Context, animeID int64, provider, mediaID string) (*models.Source, error)
	FindSourceByProviderMedia(ctx context.Context, provider, mediaID string) (*models.Source, error)
	ListSources(ctx context.Context, animeID int64) ([]models.Source, error)
	ListSourcesForRefresh(ctx context.Context, incrementalOnly bool) ([]models.Source, error)
	CreateSource(ctx context.Context, s *models.Source) (int64, error)
	SetFavoritedSource(ctx context.Context, animeID, sourceID int64) error
	RecordSourceOutcome(ctx context.Context, sourceID int64, success bool) error

	GetEpisode(ctx context.Context, sourceID int64, index int) (*models.Episode, error)
	ListEpisodes(ctx context.Context, sourceID int64) ([]models.Episode, error)
	UpsertEpisode(ctx context.Context, e *models.Episode) (int64, error)
	WriteDanmaku(ctx context.Context, episodeID int64, path string, comments []models.Comment) (int, error)

	// Task history
	CreateTask(ctx context.Context, t *models.TaskRecord) error
	UpdateTask(ctx context.Context, t *models.TaskRecord) error
	GetTask(ctx context.Context, id string) (*models.TaskRecord, error)
	FindActiveByUniqueKey(ctx context.Context, uniqueKey string) (*models.TaskRecord, error)
	FindRecentTerminalByUniqueKey(ctx context.Context, uniqueKey string, within time.Duration) (*models.TaskRecord, error)
	ListTasks(ctx context.Context, statusFilter string, limit, offset int) ([]models.TaskRecord, error)
	ForceFailRunningOrPaused(ctx context.Context) (int, error)
	DeleteTask(ctx context.Context, id string) error

	// Config store
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
	RegisterConfigDefault(ctx context.Context, d models.ConfigDescriptor) error

	// Cache
	CacheGet(ctx context.Context, key string) (string, bool, error)
	CacheSet(ctx context.Context, key, payload string, ttl time.Duration) error
	CacheGC(ctx context.Context, now time.Time) (int, error)

	// Rate limit state
	RateLimitGet(ctx context.Context, key string) (*models.RateLimitState, error)
	RateLimitIncrement(ctx context.Context, key string, now time.Time) error
	RateLimitResetAll(ctx context.Context, keys []string, now time.Time) error

	// Webhook queue
	EnqueueWebhookJob(ctx context.Context, job string, runAt time.Time) (int64, error)
	DueWebhookJobs(ctx context.Context, now time.Time) ([]models.WebhookQueueRow, error)
	MarkWebhookJobDispatched(ctx context.Context, id int64) error

	// Scheduler bridge
	UpsertSchedulerTask(ctx context.Context, t *models.SchedulerTaskRow) error
	GetSchedulerTask(ctx context.Context, id string) (*models.SchedulerTaskRow, error)
	BindSchedulerExecution(ctx context.Context, schedulerID, executionTaskID string) error

	// External API log
	LogExternalAPIAccess(ctx context.Context, row models.ExternalAPILogRow) error

	Close() error
}
