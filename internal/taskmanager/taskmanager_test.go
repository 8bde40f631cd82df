package taskmanager

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/danmuhub/internal/logging"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/repo"
)

func newTestManager(t *testing.T) (*Manager, repo.Repo) {
	t.Helper()
	r, err := repo.OpenSQLite(":memory:", repo.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	m := New(r, nil, logging.Test(io.Discard), 0)
	require.NoError(t, m.Start(context.Background()))
	return m, r
}

func waitForStatus(t *testing.T, r repo.Repo, id string, want models.TaskStatus, timeout time.Duration) models.TaskRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, err := r.GetTask(context.Background(), id)
		require.NoError(t, err)
		if rec.Status == want {
			return *rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %s in time", id, want)
	return models.TaskRecord{}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	m, r := newTestManager(t)

	id, err := m.Submit(context.Background(), "test job", "", "generic_import", "", func(ctx context.Context, ctl *Control) error {
		return ctl.Progress(ctx, 50, "halfway")
	})
	require.NoError(t, err)

	rec := waitForStatus(t, r, id, models.TaskCompleted, time.Second)
	assert.Equal(t, 100, rec.Progress)
}

func TestSubmitRejectsActiveUniqueKeyCollision(t *testing.T) {
	m, _ := newTestManager(t)
	block := make(chan struct{})

	_, err := m.Submit(context.Background(), "first", "key-1", "generic_import", "", func(ctx context.Context, ctl *Control) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	_, err = m.Submit(context.Background(), "second", "key-1", "generic_import", "", func(ctx context.Context, ctl *Control) error {
		return nil
	})
	require.Error(t, err)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, conflict.WithActive)

	close(block)
}

func TestTaskSuccessSignalCarriesMessage(t *testing.T) {
	m, r := newTestManager(t)

	id, err := m.Submit(context.Background(), "custom success", "", "generic_import", "", func(ctx context.Context, ctl *Control) error {
		return TaskSuccess("imported 12 episodes")
	})
	require.NoError(t, err)

	rec := waitForStatus(t, r, id, models.TaskCompleted, time.Second)
	assert.Equal(t, "imported 12 episodes", rec.Message)
}

func TestFailedTaskRecordsError(t *testing.T) {
	m, r := newTestManager(t)

	id, err := m.Submit(context.Background(), "will fail", "", "generic_import", "", func(ctx context.Context, ctl *Control) error {
		return errors.New("boom")
	})
	require.NoError(t, err)

	rec := waitForStatus(t, r, id, models.TaskFailed, time.Second)
	assert.Equal(t, "boom", rec.Message)
}

func TestAbortCancelsRunningTask(t *testing.T) {
	m, r := newTestManager(t)
	started := make(chan struct{})

	id, err := m.Submit(context.Background(), "long running", "", "generic_import", "", func(ctx context.Context, ctl *Control) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, m.Abort(id))

	rec := waitForStatus(t, r, id, models.TaskCancelled, time.Second)
	assert.Equal(t, "aborted", rec.Message)
}

func TestPauseAndResume(t *testing.T) {
	m, r := newTestManager(t)
	reachedPause := make(chan struct{})
	pauseSent := make(chan struct{})

	id, err := m.Submit(context.Background(), "pausable", "", "generic_import", "", func(ctx context.Context, ctl *Control) error {
		if perr := ctl.Progress(ctx, 10, "starting"); perr != nil {
			return perr
		}
		close(reachedPause)
		<-pauseSent
		if perr := ctl.Progress(ctx, 20, "checkpoint"); perr != nil {
			return perr
		}
		return nil
	})
	require.NoError(t, err)

	<-reachedPause
	require.NoError(t, m.Pause(id))
	close(pauseSent)
	rec := waitForStatus(t, r, id, models.TaskPaused, time.Second)
	assert.Equal(t, 10, rec.Progress)

	require.NoError(t, m.Resume(id))
	waitForStatus(t, r, id, models.TaskCompleted, time.Second)
}

func TestDuplicateTerminalWithinThresholdIsRejected(t *testing.T) {
	m, r := newTestManager(t)

	id, err := m.Submit(context.Background(), "first run", "dup-key", "generic_import", "", func(ctx context.Context, ctl *Control) error {
		return nil
	})
	require.NoError(t, err)
	waitForStatus(t, r, id, models.TaskCompleted, time.Second)

	_, err = m.Submit(context.Background(), "second run", "dup-key", "generic_import", "", func(ctx context.Context, ctl *Control) error {
		return nil
	})
	require.Error(t, err)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.False(t, conflict.WithActive)
	assert.Equal(t, models.TaskCompleted, conflict.PriorStatus)
}
