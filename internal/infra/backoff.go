package infra

import (
	"time"
)

const (
	// Standard backoff constants for provider polling
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 10 * time.Second
)

// CalculateBackoff returns the exponential backoff duration for a 0-based attempt.
// Logic: DefaultBaseDelay * 2^attempt, capped at DefaultMaxDelay.
func CalculateBackoff(attempt int) time.Duration {
	return Backoff(DefaultBaseDelay, DefaultMaxDelay)(attempt)
}

// Backoff builds a capped exponential backoff function.
// Negative attempts return base.
func Backoff(base, max time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			return base
		}

		// 2^30 seconds is far beyond any sensible cap; avoid shift overflow.
		if attempt > 30 {
			return max
		}

		backoff := base * time.Duration(1<<attempt)
		if backoff > max || backoff <= 0 {
			return max
		}
		return backoff
	}
}
