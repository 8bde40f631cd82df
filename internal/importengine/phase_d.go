package importengine

import "context"

// bookkeepIncrementalRefresh implements Phase D: atomically increment or
// reset the source's consecutive-failure counter, disabling incremental
// refresh at the configured threshold.
func (e *Engine) bookkeepIncrementalRefresh(ctx context.Context, sourceID int64, outcomes []EpisodeOutcome) error {
	allFailed := len(outcomes) > 0
	for _, o := range outcomes {
		if o.Kind != "failed" {
			allFailed = false
			break
		}
	}
	return e.repo.RecordSourceOutcome(ctx, sourceID, !allFailed)
}
