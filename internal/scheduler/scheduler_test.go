package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/danmuhub/internal/logging"
	"github.com/tomtom215/danmuhub/internal/metrics"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/repo"
)

func TestParseCronEveryMinute(t *testing.T) {
	expr, err := ParseCron("* * * * *")
	require.NoError(t, err)
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := expr.NextRun(after, nil)
	assert.Equal(t, after.Add(time.Minute), next)
}

func TestParseCronDailyAtNine(t *testing.T) {
	expr, err := ParseCron("0 9 * * *")
	require.NoError(t, err)
	after := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	next := expr.NextRun(after, nil)
	assert.Equal(t, time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestParseCronStep(t *testing.T) {
	expr, err := ParseCron("*/15 * * * *")
	require.NoError(t, err)
	after := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	next := expr.NextRun(after, nil)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC), next)
}

func TestParseCronRejectsWrongFieldCount(t *testing.T) {
	_, err := ParseCron("* * *")
	assert.Error(t, err)
}

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	r, err := repo.OpenSQLite(":memory:", repo.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestSchedulerFiresJobOnSchedule(t *testing.T) {
	r := newTestRepo(t)
	fired := make(chan struct{}, 1)
	job := Job{
		Name:     "test-job",
		CronExpr: "* * * * *",
		Run: func(ctx context.Context) (string, error) {
			select {
			case fired <- struct{}{}:
			default:
			}
			return "exec-1", nil
		},
	}
	s := New(r, metrics.New(), logging.Test(io.Discard), 20*time.Millisecond, []Job{job})

	// Pre-seed the task row as already due, since ensureTaskRow only fills
	// in a NextRunAt for rows that don't exist yet, and a fresh "* * * * *"
	// row would otherwise not be due for up to a minute.
	require.NoError(t, r.UpsertSchedulerTask(context.Background(), &models.SchedulerTaskRow{
		ID: "test-job", Name: "test-job", CronExpr: "* * * * *",
		NextRunAt: time.Now().Add(-time.Minute),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go func() { _ = s.Serve(ctx) }()

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("job never fired")
	}

	row, err := r.GetSchedulerTask(context.Background(), "test-job")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.NotNil(t, row.ExecutionTaskID)
	assert.Equal(t, "exec-1", *row.ExecutionTaskID)
}
