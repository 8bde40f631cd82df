package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/danmuhub/internal/metrics"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/repo"
)

// FallbackKind distinguishes the two DanDanPlay compatibility buckets.
type FallbackKind string

const (
	FallbackMatch  FallbackKind = "match"
	FallbackSearch FallbackKind = "search"
)

// fallbackCombinedCap is the fixed total window cap shared between the two
// fallback buckets.
const fallbackCombinedCap = 50

// Result is returned by Check and CheckFallback.
type Result struct {
	OK         bool
	RetryAfter time.Duration
}

// QuotaSource resolves the declared per-provider quota; nil means unlimited.
type QuotaSource func(provider string) *int

// Limiter enforces the global, per-provider, and fallback request buckets.
type Limiter struct {
	repo    repo.Repo
	metrics *metrics.Registry
	log     zerolog.Logger
	quotas  QuotaSource

	mu        sync.Mutex
	safeBlock bool
	policy    Policy
}

// New constructs a Limiter, loading and verifying the signed policy from
// policyDir. A load failure (missing files or any I/O error) puts the
// limiter into safe-block instead of returning an error.
func New(r repo.Repo, m *metrics.Registry, log zerolog.Logger, policyDir string, quotas QuotaSource) *Limiter {
	l := &Limiter{repo: r, metrics: m, log: log, quotas: quotas}

	p, err := LoadPolicy(policyDir)
	if err != nil {
		log.Error().Err(err).Str("policy_dir", policyDir).Msg("rate limit policy verification failed; entering safe-block")
		l.safeBlock = true
		return l
	}
	l.policy = *p
	return l
}

func periodSeconds(period string) time.Duration {
	switch period {
	case "second":
		return time.Second
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	case "day":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

const safeBlockRetryAfter = time.Hour

// Check enforces the global and per-provider buckets without incrementing
// them. Callers must call Increment only after a
// successful network fetch returned a non-empty body.
func (l *Limiter) Check(ctx context.Context, provider string) (Result, error) {
	l.mu.Lock()
	safeBlock := l.safeBlock
	policy := l.policy
	l.mu.Unlock()

	if safeBlock {
		l.observe(provider, "safe_block")
		return Result{OK: false, RetryAfter: safeBlockRetryAfter}, nil
	}
	if !policy.Enabled {
		l.observe(provider, "disabled_unlimited")
		return Result{OK: true}, nil
	}

	period := periodSeconds(policy.GlobalPeriod)
	now := time.Now()

	global, err := l.repo.RateLimitGet(ctx, models.BucketGlobal)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: read global state: %w", err)
	}

	elapsed := now.Sub(global.LastResetTime)
	if elapsed >= period {
		if err := l.repo.RateLimitResetAll(ctx, []string{models.BucketGlobal, providerKey(provider)}, now); err != nil {
			return Result{}, fmt.Errorf("ratelimit: reset counters: %w", err)
		}
		global.RequestCount = 0
		elapsed = 0
	}

	if global.RequestCount >= policy.GlobalLimit {
		retryAfter := period - elapsed
		l.observe(provider, "global_exceeded")
		l.rejectMetric(models.BucketGlobal)
		return Result{OK: false, RetryAfter: retryAfter}, nil
	}

	quota := l.quotaFor(provider)
	if quota != nil {
		providerState, err := l.repo.RateLimitGet(ctx, providerKey(provider))
		if err != nil {
			return Result{}, fmt.Errorf("ratelimit: read provider state: %w", err)
		}
		if providerState.RequestCount >= *quota {
			retryAfter := period - elapsed
			l.observe(provider, "provider_exceeded")
			l.rejectMetric(providerKey(provider))
			return Result{OK: false, RetryAfter: retryAfter}, nil
		}
	}

	l.observe(provider, "ok")
	return Result{OK: true}, nil
}

func (l *Limiter) quotaFor(provider string) *int {
	if l.quotas == nil {
		return nil
	}
	return l.quotas(provider)
}

func providerKey(provider string) string { return "provider:" + provider }

// Increment bumps both the global and provider counters. Call this only
// after a successful fetch returned a non-null body.
func (l *Limiter) Increment(ctx context.Context, provider string) error {
	now := time.Now()
	if err := l.repo.RateLimitIncrement(ctx, models.BucketGlobal, now); err != nil {
		return fmt.Errorf("ratelimit: increment global: %w", err)
	}
	if err := l.repo.RateLimitIncrement(ctx, providerKey(provider), now); err != nil {
		return fmt.Errorf("ratelimit: increment provider: %w", err)
	}
	return nil
}

func fallbackKey(kind FallbackKind) string {
	if kind == FallbackMatch {
		return models.BucketFallbackMatch
	}
	return models.BucketFallbackSearch
}

// CheckFallback enforces the combined 50-per-window cap shared by the two
// fallback buckets.
func (l *Limiter) CheckFallback(ctx context.Context, kind FallbackKind, provider string) (Result, error) {
	l.mu.Lock()
	safeBlock := l.safeBlock
	policy := l.policy
	l.mu.Unlock()

	if safeBlock {
		return Result{OK: false, RetryAfter: safeBlockRetryAfter}, nil
	}

	period := periodSeconds(policy.GlobalPeriod)
	now := time.Now()

	matchState, err := l.repo.RateLimitGet(ctx, models.BucketFallbackMatch)
	if err != nil {
		return Result{}, err
	}
	searchState, err := l.repo.RateLimitGet(ctx, models.BucketFallbackSearch)
	if err != nil {
		return Result{}, err
	}

	elapsed := now.Sub(matchState.LastResetTime)
	if elapsed >= period {
		if err := l.repo.RateLimitResetAll(ctx, []string{models.BucketFallbackMatch, models.BucketFallbackSearch}, now); err != nil {
			return Result{}, err
		}
		matchState.RequestCount = 0
		searchState.RequestCount = 0
		elapsed = 0
	}

	total := matchState.RequestCount + searchState.RequestCount
	if total >= fallbackCombinedCap {
		l.rejectMetric(fallbackKey(kind))
		return Result{OK: false, RetryAfter: period - elapsed}, nil
	}
	return Result{OK: true}, nil
}

// IncrementFallback bumps the fallback bucket named by kind.
func (l *Limiter) IncrementFallback(ctx context.Context, kind FallbackKind) error {
	return l.repo.RateLimitIncrement(ctx, fallbackKey(kind), time.Now())
}

func (l *Limiter) observe(provider, result string) {
	if l.metrics == nil {
		return
	}
	l.metrics.RateLimitCheck.WithLabelValues(provider, result).Inc()
}

func (l *Limiter) rejectMetric(bucket string) {
	if l.metrics == nil {
		return
	}
	l.metrics.RateLimitReject.WithLabelValues(bucket).Inc()
}

// SafeBlocked reports whether policy verification failed at startup.
func (l *Limiter) SafeBlocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.safeBlock
}
