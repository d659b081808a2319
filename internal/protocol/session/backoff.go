package session

import (
	"math"
	"math/rand"
	"time"
)

// Delay is the wait before dial attempt n+1 after attempt n failed. Attempts
// are 1-based. With Jitter the result is scaled into [0.5, 1.5) of the
// nominal delay; a nil rng pins the factor at 1.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	growth := max(b.Multiplier, 1.0)
	nominal := float64(b.InitialDelay)
	if attempt > 1 {
		nominal *= math.Pow(growth, float64(attempt-1))
	}
	if b.MaxDelay > 0 {
		nominal = math.Min(nominal, float64(b.MaxDelay))
	}
	if b.Jitter && rng != nil {
		nominal *= 0.5 + rng.Float64()
	}
	return time.Duration(nominal)
}

// Exhausted reports whether attempt used up the budget. A non-positive
// budget never runs out.
func (c Config) Exhausted(attempt int) bool {
	return c.MaxConnectAttempts > 0 && attempt >= c.MaxConnectAttempts
}
