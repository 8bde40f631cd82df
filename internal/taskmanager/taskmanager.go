// Package taskmanager implements the single-writer job queue:
// submit/abort/pause/resume over a FIFO of jobs, of which at most one runs
// at a time, with unique-key dedup against both in-flight and recent
// terminal history.
package taskmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/danmuhub/internal/logging"
	"github.com/tomtom215/danmuhub/internal/metrics"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/repo"
)

// DefaultDuplicateThreshold is the window within which a terminal task
// with the same unique key is treated as a recent duplicate.
const DefaultDuplicateThreshold = 3 * time.Hour

// TaskFunc is the job coroutine. It must respect ctx cancellation (Abort)
// and report progress via ctl so pause/resume can take effect between
// reports. Returning a *SuccessSignal (see TaskSuccess) ends the task as
// completed with that message rather than as an error.
type TaskFunc func(ctx context.Context, ctl *Control) error

// ConflictError is returned by Submit when unique_key collides with an
// active task or a recent terminal one.
type ConflictError struct {
	UniqueKey      string
	WithActive     bool
	PriorStatus    models.TaskStatus
	PriorTaskAge   time.Duration
}

func (e *ConflictError) Error() string {
	if e.WithActive {
		return fmt.Sprintf("taskmanager: unique_key %q already has an active task", e.UniqueKey)
	}
	return fmt.Sprintf("taskmanager: unique_key %q completed %s ago with status %s, within duplicate threshold",
		e.UniqueKey, e.PriorTaskAge.Round(time.Second), e.PriorStatus)
}

// SuccessSignal is a cooperative success outcome carrying a terminal
// message; it is not a failure even though it
// satisfies the error interface so a TaskFunc can `return TaskSuccess(...)`.
type SuccessSignal struct{ Message string }

func (s *SuccessSignal) Error() string { return s.Message }

// TaskSuccess builds a cooperative success signal.
func TaskSuccess(message string) error { return &SuccessSignal{Message: message} }

type queuedTask struct {
	record models.TaskRecord
	fn     TaskFunc
}

type activeTask struct {
	id        string
	uniqueKey string
	cancel    context.CancelFunc
	pauseReq  chan struct{}
	resumeReq chan struct{}
}

// Manager runs at most one job at a time, FIFO, with pause/resume/abort.
type Manager struct {
	repo               repo.Repo
	metrics            *metrics.Registry
	log                zerolog.Logger
	duplicateThreshold time.Duration

	mu      sync.Mutex
	queue   []*queuedTask
	active  map[string]*activeTask // pending/running/paused, by task id
	byKey   map[string]string      // unique key -> task id, for active tasks only
	wake    chan struct{}
	started bool
}

// New builds a Manager. Call Start to begin the worker loop; Start applies
// ForceFailRunningOrPaused first so a restart's stale rows are reconciled
// before any job runs.
func New(r repo.Repo, m *metrics.Registry, log zerolog.Logger, duplicateThreshold time.Duration) *Manager {
	if duplicateThreshold <= 0 {
		duplicateThreshold = DefaultDuplicateThreshold
	}
	return &Manager{
		repo:               r,
		metrics:            m,
		log:                log,
		duplicateThreshold: duplicateThreshold,
		active:             make(map[string]*activeTask),
		byKey:              make(map[string]string),
		wake:               make(chan struct{}, 1),
	}
}

// Start reconciles stale rows from a prior process and launches the
// worker goroutine. Safe to call once.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	n, err := m.repo.ForceFailRunningOrPaused(ctx)
	if err != nil {
		return fmt.Errorf("taskmanager: reconcile stale tasks: %w", err)
	}
	if n > 0 {
		m.log.Warn().Int("count", n).Msg("force-failed stale running/paused tasks from prior process")
	}

	go m.workerLoop(ctx)
	return nil
}

// Submit enqueues a new job, rejecting on unique-key conflicts.
func (m *Manager) Submit(ctx context.Context, title, uniqueKey, taskType, parameters string, fn TaskFunc) (string, error) {
	if uniqueKey != "" {
		m.mu.Lock()
		if _, collides := m.byKey[uniqueKey]; collides {
			m.mu.Unlock()
			return "", &ConflictError{UniqueKey: uniqueKey, WithActive: true}
		}
		m.mu.Unlock()

		if prior, err := m.repo.FindRecentTerminalByUniqueKey(ctx, uniqueKey, m.duplicateThreshold); err != nil {
			return "", fmt.Errorf("taskmanager: check recent terminal tasks: %w", err)
		} else if prior != nil {
			return "", &ConflictError{
				UniqueKey:    uniqueKey,
				PriorStatus:  prior.Status,
				PriorTaskAge: time.Since(prior.UpdatedAt),
			}
		}
	}

	id := logging.NewCorrelationID()
	now := time.Now()
	record := models.TaskRecord{
		ID: id, Title: title, UniqueKey: uniqueKey, Status: models.TaskPending,
		TaskType: taskType, Parameters: parameters, CreatedAt: now, UpdatedAt: now,
	}
	if err := m.repo.CreateTask(ctx, &record); err != nil {
		return "", fmt.Errorf("taskmanager: persist task: %w", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, &queuedTask{record: record, fn: fn})
	if uniqueKey != "" {
		m.byKey[uniqueKey] = id
	}
	m.mu.Unlock()

	m.nudge()
	if m.metrics != nil {
		m.metrics.TaskSubmitted.WithLabelValues(taskType).Inc()
	}
	return id, nil
}

func (m *Manager) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// CancelPending removes a not-yet-started task from the queue.
func (m *Manager) CancelPending(ctx context.Context, id string) error {
	m.mu.Lock()
	for i, qt := range m.queue {
		if qt.record.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			if qt.record.UniqueKey != "" {
				delete(m.byKey, qt.record.UniqueKey)
			}
			m.mu.Unlock()
			qt.record.Status = models.TaskCancelled
			qt.record.UpdatedAt = time.Now()
			return m.repo.UpdateTask(ctx, &qt.record)
		}
	}
	m.mu.Unlock()
	return fmt.Errorf("taskmanager: task %q not found in pending queue", id)
}

// Abort cancels the running (or paused) task's context; history is kept.
func (m *Manager) Abort(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.active[id]
	if !ok {
		return fmt.Errorf("taskmanager: task %q is not active", id)
	}
	at.cancel()
	return nil
}

// Pause requests that the running task observe paused at its next
// progress report.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.active[id]
	if !ok {
		return fmt.Errorf("taskmanager: task %q is not active", id)
	}
	select {
	case at.pauseReq <- struct{}{}:
	default:
	}
	return nil
}

// Resume signals a paused task to continue.
func (m *Manager) Resume(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.active[id]
	if !ok {
		return fmt.Errorf("taskmanager: task %q is not active", id)
	}
	select {
	case at.resumeReq <- struct{}{}:
	default:
	}
	return nil
}

func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}

		for {
			qt := m.dequeue()
			if qt == nil {
				break
			}
			m.runTask(ctx, qt)
		}
	}
}

func (m *Manager) dequeue() *queuedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	qt := m.queue[0]
	m.queue = m.queue[1:]
	return qt
}

func (m *Manager) runTask(parentCtx context.Context, qt *queuedTask) {
	taskCtx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	at := &activeTask{
		id: qt.record.ID, uniqueKey: qt.record.UniqueKey, cancel: cancel,
		pauseReq: make(chan struct{}, 1), resumeReq: make(chan struct{}, 1),
	}
	m.mu.Lock()
	m.active[at.id] = at
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.active, at.id)
		if at.uniqueKey != "" {
			delete(m.byKey, at.uniqueKey)
		}
		m.mu.Unlock()
	}()

	record := qt.record
	record.Status = models.TaskRunning
	record.UpdatedAt = time.Now()
	if err := m.repo.UpdateTask(taskCtx, &record); err != nil {
		m.log.Error().Err(err).Str("task_id", at.id).Msg("failed to mark task running")
	}

	ctl := &Control{manager: m, active: at, record: &record}

	start := time.Now()
	err := qt.fn(taskCtx, ctl)
	duration := time.Since(start)

	record.UpdatedAt = time.Now()
	switch {
	case taskCtx.Err() != nil && err != nil:
		record.Status = models.TaskCancelled
		record.Message = "aborted"
	case err == nil:
		record.Status = models.TaskCompleted
		record.Progress = 100
	default:
		var success *SuccessSignal
		if ok := asSuccessSignal(err, &success); ok {
			record.Status = models.TaskCompleted
			record.Progress = 100
			record.Message = success.Message
		} else {
			record.Status = models.TaskFailed
			record.Message = err.Error()
		}
	}

	if updateErr := m.repo.UpdateTask(parentCtx, &record); updateErr != nil {
		m.log.Error().Err(updateErr).Str("task_id", at.id).Msg("failed to persist task terminal state")
	}
	if m.metrics != nil {
		m.metrics.TaskCompleted.WithLabelValues(record.TaskType, string(record.Status)).Inc()
		m.metrics.TaskDuration.WithLabelValues(record.TaskType).Observe(duration.Seconds())
	}
}

func asSuccessSignal(err error, out **SuccessSignal) bool {
	if s, ok := err.(*SuccessSignal); ok {
		*out = s
		return true
	}
	return false
}
