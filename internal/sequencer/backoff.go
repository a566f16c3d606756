package sequencer

import "time"

const (
	backoffBase = 250 * time.Millisecond
	backoffMax  = 5 * time.Second
)

// backoff returns the delay before retry attempt n (0-based): base doubled
// per attempt, capped at backoffMax.
func backoff(attempt int) time.Duration {
	if attempt < 0 {
		return backoffBase
	}
	// 2^20 × 250ms already exceeds the cap by far.
	if attempt > 20 {
		return backoffMax
	}
	d := backoffBase * time.Duration(1<<attempt)
	if d > backoffMax {
		return backoffMax
	}
	return d
}
