package dispatch

import "time"

const (
	baseDelay = 250 * time.Millisecond
	maxDelay  = 10 * time.Second
)

// Backoff returns the exponential backoff delay before retry attempt n
// (0-based). baseDelay * 2^n, capped at maxDelay.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return baseDelay
	}
	// 2^30 already exceeds any sane cap; avoid shift overflow.
	if attempt > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<attempt)
	if d > maxDelay {
		return maxDelay
	}
	return d
}
