package backoff

import (
	"math"
	"time"
)

// Exponential returns base * 2^(attempt-1), capped at max. Attempt values
// below 1 are treated as 1.
func Exponential(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	factor := math.Pow(2, float64(attempt-1))
	d := time.Duration(factor * float64(base))
	if d > max || d < 0 {
		return max
	}
	return d
}
