// Package metrics defines the Prometheus instrumentation surfaced by every
// component. A single Registry is constructed in cmd/server and threaded
// through components by reference, rather than relying on the global
// default registry, so tests can build an isolated Registry per case.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the service emits.
type Registry struct {
	reg *prometheus.Registry

	TaskSubmitted   *prometheus.CounterVec
	TaskCompleted   *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	RateLimitCheck  *prometheus.CounterVec
	RateLimitReject *prometheus.CounterVec
	SearchStageTime *prometheus.HistogramVec
	ImportEpisodes  *prometheus.CounterVec
	WebhookReceived *prometheus.CounterVec
	SchedulerRuns   *prometheus.CounterVec
}

// New builds a Registry with every collector registered against a fresh
// prometheus.Registry, so callers can expose it via promhttp.HandlerFor.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		TaskSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danmuhub_task_submitted_total",
			Help: "Tasks accepted by the task manager, by type.",
		}, []string{"task_type"}),
		TaskCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danmuhub_task_completed_total",
			Help: "Tasks that reached a terminal state, by outcome.",
		}, []string{"task_type", "outcome"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "danmuhub_task_duration_seconds",
			Help:    "Wall-clock duration of a task from running to terminal.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_type"}),
		RateLimitCheck: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danmuhub_rate_limit_check_total",
			Help: "RateLimiter.Check calls, by provider and result.",
		}, []string{"provider", "result"}),
		RateLimitReject: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danmuhub_rate_limit_reject_total",
			Help: "RateLimiter rejections, by bucket.",
		}, []string{"bucket"}),
		SearchStageTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "danmuhub_search_stage_duration_seconds",
			Help:    "Duration of each SearchPipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		ImportEpisodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danmuhub_import_episodes_total",
			Help: "Episodes processed by the import engine, by outcome.",
		}, []string{"outcome"}),
		WebhookReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danmuhub_webhook_received_total",
			Help: "Webhook payloads received, by source and whether filtered.",
		}, []string{"source", "filtered"}),
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danmuhub_scheduler_runs_total",
			Help: "Scheduler job firings, by job name and outcome.",
		}, []string{"job", "outcome"}),
	}

	reg.MustRegister(
		m.TaskSubmitted, m.TaskCompleted, m.TaskDuration,
		m.RateLimitCheck, m.RateLimitReject, m.SearchStageTime,
		m.ImportEpisodes, m.WebhookReceived, m.SchedulerRuns,
	)
	return m
}

// Gatherer exposes the underlying registry for promhttp.HandlerFor.
func (m *Registry) Gatherer() prometheus.Gatherer { return m.reg }
