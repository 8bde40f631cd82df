package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/danmuhub/internal/importengine"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/repo"
	"github.com/tomtom215/danmuhub/internal/taskmanager"
)

// NewWebhookDrainJob builds the job that pulls due rows off the delayed
// webhook queue and hands each one to submit, marking it dispatched once
// accepted.
func NewWebhookDrainJob(cronExpr string, r repo.Repo, tm *taskmanager.Manager, submit func(ctx context.Context, job models.WebhookJob) error) Job {
	return Job{
		Name:     "webhook-drain",
		CronExpr: cronExpr,
		Run: func(ctx context.Context) (string, error) {
			return tm.Submit(ctx, "Delayed webhook drain", "", "webhook_drain", "", func(taskCtx context.Context, ctl *taskmanager.Control) error {
				due, err := r.DueWebhookJobs(taskCtx, time.Now())
				if err != nil {
					return fmt.Errorf("scheduler: list due webhook jobs: %w", err)
				}
				dispatched := 0
				for _, row := range due {
					var job models.WebhookJob
					if err := json.Unmarshal([]byte(row.Job), &job); err != nil {
						continue
					}
					if err := submit(taskCtx, job); err != nil {
						continue
					}
					if err := r.MarkWebhookJobDispatched(taskCtx, row.ID); err != nil {
						continue
					}
					dispatched++
				}
				return taskmanager.TaskSuccess(fmt.Sprintf("dispatched %d/%d queued jobs", dispatched, len(due)))
			})
		},
	}
}

// NewCacheGCJob builds the job that purges expired search-result cache
// rows.
func NewCacheGCJob(cronExpr string, r repo.Repo, tm *taskmanager.Manager) Job {
	return Job{
		Name:     "cache-gc",
		CronExpr: cronExpr,
		Run: func(ctx context.Context) (string, error) {
			return tm.Submit(ctx, "Cache garbage collection", "", "cache_gc", "", func(taskCtx context.Context, ctl *taskmanager.Control) error {
				removed, err := r.CacheGC(taskCtx, time.Now())
				if err != nil {
					return fmt.Errorf("scheduler: cache gc: %w", err)
				}
				return taskmanager.TaskSuccess(fmt.Sprintf("purged %d expired cache rows", removed))
			})
		},
	}
}

// NewRefreshJob builds either the incremental-refresh job (incrementalOnly)
// or the full-refresh job, sweeping every eligible source and re-running
// the generic import against it.
func NewRefreshJob(name, cronExpr string, incrementalOnly bool, r repo.Repo, tm *taskmanager.Manager, engine *importengine.Engine) Job {
	return Job{
		Name:     name,
		CronExpr: cronExpr,
		Run: func(ctx context.Context) (string, error) {
			return tm.Submit(ctx, name, "", "refresh_sweep", "", func(taskCtx context.Context, ctl *taskmanager.Control) error {
				sources, err := r.ListSourcesForRefresh(taskCtx, incrementalOnly)
				if err != nil {
					return fmt.Errorf("scheduler: list sources for refresh: %w", err)
				}

				succeeded, failed := 0, 0
				for i, src := range sources {
					if taskCtx.Err() != nil {
						return taskCtx.Err()
					}
					anime, err := r.GetAnime(taskCtx, src.AnimeID)
					if err != nil || anime == nil {
						failed++
						continue
					}
					srcID := src.ID
					req := importengine.Request{
						Provider: src.Provider, MediaID: src.MediaID, Title: anime.Title,
						MediaType: anime.MediaType, Season: anime.Season, Year: anime.Year,
						SmartRefresh: true,
					}
					if incrementalOnly {
						req.IncrementalRefreshSourceID = &srcID
					}
					if _, err := engine.Run(taskCtx, ctl, req); err != nil {
						failed++
					} else {
						succeeded++
					}
					_ = ctl.Progress(taskCtx, (i+1)*100/max(len(sources), 1),
						fmt.Sprintf("refreshed %d/%d sources", i+1, len(sources)))
				}
				return taskmanager.TaskSuccess(fmt.Sprintf("refresh sweep: %d succeeded, %d failed, %d total", succeeded, failed, len(sources)))
			})
		},
	}
}
