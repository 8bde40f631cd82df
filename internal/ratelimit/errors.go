package ratelimit

import (
	"fmt"
	"time"
)

// ExceededError is raised by callers (e.g. the import engine's per-episode
// loop) when a Check result is not OK, carrying the suggested wait before
// retrying.
type ExceededError struct {
	RetryAfter time.Duration
}

func (e ExceededError) Error() string {
	return fmt.Sprintf("ratelimit: exceeded, retry after %s", e.RetryAfter)
}
