package outbox

import "time"

const (
	backoffBase = 30 * time.Second
	backoffCap  = 15 * time.Minute
)

// Backoff returns the retry delay after the given attempt count
// (1-based): 30s, 1m, 2m, ... capped at 15m.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := backoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}

	if delay > backoffCap {
		return backoffCap
	}
	return delay
}
