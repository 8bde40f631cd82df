package taskmanager

import (
	"context"
	"time"

	"github.com/tomtom215/danmuhub/internal/models"
)

// Control is handed to a running TaskFunc for progress reporting and
// cooperative pause handling.
type Control struct {
	manager *Manager
	active  *activeTask
	record  *models.TaskRecord
}

// Progress writes {progress%, message, status} through the repo and, if a
// Pause was requested since the last report, blocks here until Resume or
// ctx cancellation.
func (c *Control) Progress(ctx context.Context, progress int, message string) error {
	select {
	case <-c.active.pauseReq:
		if err := c.setStatus(ctx, models.TaskPaused, c.record.Progress, message); err != nil {
			return err
		}
		select {
		case <-c.active.resumeReq:
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
	}

	return c.setStatus(ctx, models.TaskRunning, progress, message)
}

func (c *Control) setStatus(ctx context.Context, status models.TaskStatus, progress int, message string) error {
	c.record.Status = status
	c.record.Progress = progress
	c.record.Message = message
	c.record.UpdatedAt = time.Now()
	return c.manager.repo.UpdateTask(ctx, c.record)
}

// PauseForRateLimit is the Go-idiomatic form of cooperative
// "TaskPauseForRateLimit" signal: rather than raising an exception, the
// task calls this inline. It marks the task paused, sleeps retryAfter
// (or until ctx cancellation), then marks it running again and returns.
func (c *Control) PauseForRateLimit(ctx context.Context, retryAfter time.Duration) error {
	if err := c.setStatus(ctx, models.TaskPaused, c.record.Progress, "rate limited, waiting to retry"); err != nil {
		return err
	}

	timer := time.NewTimer(retryAfter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.setStatus(ctx, models.TaskRunning, c.record.Progress, "resumed after rate limit wait")
}

// TaskID returns the id of the task this Control belongs to.
func (c *Control) TaskID() string { return c.record.ID }
