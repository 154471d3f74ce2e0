package resilience

import (
	"math"
	"time"
)

// RetryConfig is the shared shape of retry tuning: attempt cap and an
// exponential backoff curve.
type RetryConfig struct {
	MaxAttempts       uint
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// Backoff returns the delay before retry number attempt (0-based), growing
// exponentially from InitialDelay and capped at MaxDelay. Jitter is the
// caller's business.
func (c RetryConfig) Backoff(attempt uint) time.Duration {
	delay := time.Duration(float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt)))
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}
