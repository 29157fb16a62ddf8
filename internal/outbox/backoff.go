package outbox

import "time"

// Retry scheduling constants. A first failure is retried after
// BackoffBase; the delay doubles per attempt and is capped at BackoffCap.
const (
	BackoffBase = 30 * time.Second
	BackoffCap  = 30 * time.Minute

	// DefaultMaxAttempts is the retry ceiling: a row whose attempt count
	// reaches this value on failure is promoted to dead.
	DefaultMaxAttempts = 8
)

// BackoffDelay returns the delay before the next attempt, given the new
// attempt count (1 for the first failure). The schedule is
// min(BackoffCap, BackoffBase * 2^(attempts-1)).
func BackoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	// Shifting past the cap would overflow; clamp early.
	if attempts-1 >= 12 {
		return BackoffCap
	}

	d := BackoffBase << uint(attempts-1)
	if d > BackoffCap {
		return BackoffCap
	}
	return d
}
