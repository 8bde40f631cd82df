package importengine

import (
	"context"
	"sync"

	"github.com/tomtom215/danmuhub/internal/ratelimit"
	"github.com/tomtom215/danmuhub/internal/scraper"
	"github.com/tomtom215/danmuhub/internal/taskmanager"
)

// iterativeDownload runs Phase C: serial by default, bounded-concurrent
// (3 workers) only for the trivial single-target case, retrying once on a
// rate-limit pause.
func (e *Engine) iterativeDownload(ctx context.Context, ctl *taskmanager.Control, src scraper.Scraper, req Request, sourceID int64, episodes []scraper.EpisodeDescriptor) []EpisodeOutcome {
	if req.EpisodeIndex != nil && len(episodes) == 1 {
		return e.boundedConcurrentDownload(ctx, src, req, sourceID, episodes)
	}
	return e.serialDownload(ctx, ctl, src, req, sourceID, episodes)
}

func (e *Engine) serialDownload(ctx context.Context, ctl *taskmanager.Control, src scraper.Scraper, req Request, sourceID int64, episodes []scraper.EpisodeDescriptor) []EpisodeOutcome {
	outcomes := make([]EpisodeOutcome, 0, len(episodes))
	total := len(episodes)

	for i, ep := range episodes {
		if ctx.Err() != nil {
			break
		}

		outcome, err := e.fetchAndStore(ctx, src, req, sourceID, ep)
		if err != nil {
			var rlErr ratelimit.ExceededError
			if asRateLimitExceeded(err, &rlErr) {
				if ctl != nil {
					if perr := ctl.PauseForRateLimit(ctx, rlErr.RetryAfter); perr != nil {
						outcomes = append(outcomes, EpisodeOutcome{Index: ep.Index, Kind: "failed", Reason: "rate limit wait cancelled"})
						break
					}
				}
				// Retry once after the rate-limit pause.
				outcome, err = e.fetchAndStore(ctx, src, req, sourceID, ep)
				if err != nil {
					outcomes = append(outcomes, EpisodeOutcome{Index: ep.Index, Kind: "failed", Reason: shortError(err)})
					continue
				}
			} else {
				outcomes = append(outcomes, EpisodeOutcome{Index: ep.Index, Kind: "failed", Reason: shortError(err)})
				continue
			}
		}
		outcomes = append(outcomes, outcome)

		if ctl != nil {
			percent := (i + 1) * 100 / total
			_ = ctl.Progress(ctx, percent, "downloaded episode "+outcome.Reason)
		}
	}
	return outcomes
}

func asRateLimitExceeded(err error, out *ratelimit.ExceededError) bool {
	if rl, ok := err.(ratelimit.ExceededError); ok {
		*out = rl
		return true
	}
	return false
}

// boundedConcurrentDownload is reserved for the trivial single-episode
// case; a semaphore of 3 is kept for parity with the documented bounded
// concurrency even though only one item is ever submitted in practice.
func (e *Engine) boundedConcurrentDownload(ctx context.Context, src scraper.Scraper, req Request, sourceID int64, episodes []scraper.EpisodeDescriptor) []EpisodeOutcome {
	sem := make(chan struct{}, boundedConcurrencyWorkers)
	outcomes := make([]EpisodeOutcome, len(episodes))
	var wg sync.WaitGroup

	for i, ep := range episodes {
		i, ep := i, ep
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcome, err := e.fetchAndStore(ctx, src, req, sourceID, ep)
			if err != nil {
				outcome = EpisodeOutcome{Index: ep.Index, Kind: "failed", Reason: shortError(err)}
			}
			outcomes[i] = outcome
		}()
	}
	wg.Wait()
	return outcomes
}
