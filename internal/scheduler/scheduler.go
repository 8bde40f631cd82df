package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/danmuhub/internal/metrics"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/repo"
)

// Job is one named, cron-triggered trigger. Run submits the real work to
// the task manager and returns the execution task id for the bridge row.
type Job struct {
	Name     string
	CronExpr string
	Run      func(ctx context.Context) (executionTaskID string, err error)
}

// DefaultCheckInterval is how often the scheduler polls for due jobs.
const DefaultCheckInterval = time.Minute

// Scheduler runs Jobs on their cron schedules and records a
// {scheduler_task_id -> execution_task_id} bridge row per firing.
type Scheduler struct {
	repo          repo.Repo
	metrics       *metrics.Registry
	log           zerolog.Logger
	checkInterval time.Duration
	jobs          map[string]*Job
	compiled      map[string]*CronExpression
}

// New builds a Scheduler for the given jobs. An invalid cron expression on
// any job is a programmer error and panics at construction time, since job
// lists are static and defined at startup.
func New(r repo.Repo, m *metrics.Registry, log zerolog.Logger, checkInterval time.Duration, jobs []Job) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	s := &Scheduler{
		repo: r, metrics: m, log: log.With().Str("component", "scheduler").Logger(),
		checkInterval: checkInterval,
		jobs:          make(map[string]*Job, len(jobs)),
		compiled:      make(map[string]*CronExpression, len(jobs)),
	}
	for i := range jobs {
		job := jobs[i]
		expr, err := ParseCron(job.CronExpr)
		if err != nil {
			panic("scheduler: invalid cron expression for job " + job.Name + ": " + err.Error())
		}
		s.jobs[job.Name] = &job
		s.compiled[job.Name] = expr
	}
	return s
}

// Serve implements suture.Service: it registers any missing scheduler_task
// rows, then polls on checkInterval until ctx is canceled.
func (s *Scheduler) Serve(ctx context.Context) error {
	now := time.Now()
	for name, expr := range s.compiled {
		if err := s.ensureTaskRow(ctx, name, s.jobs[name].CronExpr, expr, now); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("failed to register scheduler task")
		}
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.checkAndRun(ctx)
	for {
		select {
		case <-ticker.C:
			s.checkAndRun(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) ensureTaskRow(ctx context.Context, name, cronExpr string, expr *CronExpression, now time.Time) error {
	existing, err := s.repo.GetSchedulerTask(ctx, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return s.repo.UpsertSchedulerTask(ctx, &models.SchedulerTaskRow{
		ID: name, Name: name, CronExpr: cronExpr, NextRunAt: expr.NextRun(now, nil),
	})
}

func (s *Scheduler) checkAndRun(ctx context.Context) {
	now := time.Now()
	for name, job := range s.jobs {
		row, err := s.repo.GetSchedulerTask(ctx, name)
		if err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("failed to load scheduler task")
			continue
		}
		if row == nil || row.NextRunAt.After(now) {
			continue
		}
		s.fire(ctx, name, job, row, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, name string, job *Job, row *models.SchedulerTaskRow, now time.Time) {
	logger := s.log.With().Str("job", name).Logger()
	execID, err := job.Run(ctx)
	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.SchedulerRuns.WithLabelValues(name, outcome).Inc()
	}
	if err != nil {
		logger.Error().Err(err).Msg("scheduled job run failed")
	} else if execID != "" {
		row.ExecutionTaskID = &execID
	}

	expr := s.compiled[name]
	row.LastRunAt = &now
	row.NextRunAt = expr.NextRun(now, nil)
	if err := s.repo.UpsertSchedulerTask(ctx, row); err != nil {
		logger.Error().Err(err).Msg("failed to advance scheduler task next-run time")
	}
	logger.Debug().Time("next_run_at", row.NextRunAt).Msg("scheduled job fired")
}
