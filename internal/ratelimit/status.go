package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/tomtom215/danmuhub/internal/models"
)

// ProviderStatus is one entry in Status.Providers.
type ProviderStatus struct {
	ProviderName string `json:"providerName"`
	DirectCount  int    `json:"directCount"`
	FallbackCount int   `json:"fallbackCount"`
	RequestCount int    `json:"requestCount"`
	Quota        string `json:"quota"` // integer or "∞"
}

// Status is the shape returned by GET /rate-limit/status.
type Status struct {
	GlobalEnabled       bool             `json:"globalEnabled"`
	GlobalRequestCount  int              `json:"globalRequestCount"`
	GlobalLimit         int              `json:"globalLimit"`
	GlobalPeriod        string           `json:"globalPeriod"`
	SecondsUntilReset   int              `json:"secondsUntilReset"`
	FallbackTotalCount  int              `json:"fallbackTotalCount"`
	FallbackTotalLimit  int              `json:"fallbackTotalLimit"`
	FallbackMatchCount  int              `json:"fallbackMatchCount"`
	FallbackSearchCount int              `json:"fallbackSearchCount"`
	Providers           []ProviderStatus `json:"providers"`
}

// Status reports the current bucket state for operator introspection.
func (l *Limiter) Status(ctx context.Context, providers []string) (*Status, error) {
	l.mu.Lock()
	policy := l.policy
	safeBlock := l.safeBlock
	l.mu.Unlock()

	if safeBlock {
		return &Status{GlobalEnabled: false, GlobalPeriod: "unknown"}, nil
	}

	global, err := l.repo.RateLimitGet(ctx, models.BucketGlobal)
	if err != nil {
		return nil, err
	}
	period := periodSeconds(policy.GlobalPeriod)
	elapsed := time.Since(global.LastResetTime)
	remaining := period - elapsed
	if remaining < 0 {
		remaining = 0
	}

	matchState, err := l.repo.RateLimitGet(ctx, models.BucketFallbackMatch)
	if err != nil {
		return nil, err
	}
	searchState, err := l.repo.RateLimitGet(ctx, models.BucketFallbackSearch)
	if err != nil {
		return nil, err
	}

	s := &Status{
		GlobalEnabled:       policy.Enabled,
		GlobalRequestCount:  global.RequestCount,
		GlobalLimit:         policy.GlobalLimit,
		GlobalPeriod:        policy.GlobalPeriod,
		SecondsUntilReset:   int(remaining.Seconds()),
		FallbackTotalCount:  matchState.RequestCount + searchState.RequestCount,
		FallbackTotalLimit:  fallbackCombinedCap,
		FallbackMatchCount:  matchState.RequestCount,
		FallbackSearchCount: searchState.RequestCount,
	}

	for _, p := range providers {
		state, err := l.repo.RateLimitGet(ctx, providerKey(p))
		if err != nil {
			return nil, err
		}
		quota := "∞"
		if q := l.quotaFor(p); q != nil {
			quota = strconv.Itoa(*q)
		}
		s.Providers = append(s.Providers, ProviderStatus{
			ProviderName: p,
			DirectCount:  state.RequestCount,
			RequestCount: state.RequestCount,
			Quota:        quota,
		})
	}
	return s, nil
}
