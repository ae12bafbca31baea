package utils

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoffWithJitter computes base * 2^(attempt-1) with +/-12.5% jitter, capped at max.
// attempt is 1-based; attempt <= 0 yields no delay.
func ExponentialBackoffWithJitter(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	exp := math.Min(float64(attempt-1), 30)
	delay := time.Duration(float64(base) * math.Pow(2, exp))
	if delay > max || delay <= 0 {
		delay = max
	}
	if spread := int64(delay / 4); spread > 0 {
		delay += time.Duration(rand.Int63n(spread)) - delay/8
	}
	if delay > max {
		delay = max
	}
	return delay
}
