package services

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
)

const (
	initialBackoffMs = 500
	maxBackoffMs     = 30000
	maxRetries       = 5
)

// JitterFunc perturbs a base delay in milliseconds. Injectable so the
// schedule is testable deterministically.
type JitterFunc func(baseMs int) int

// DefaultJitter multiplies the base by a uniform factor in [0.75, 1.25] to
// spread concurrent retries. Never returns a negative delay.
func DefaultJitter(baseMs int) int {
	factor := 0.75 + rand.Float64()*0.5
	jittered := int(math.Round(float64(baseMs) * factor))
	if jittered < 0 {
		return 0
	}
	return jittered
}

// CalculateBackoff computes the retry delay in milliseconds for a given
// attempt. A server-supplied Retry-After hint (integer seconds) always takes
// precedence over the exponential schedule; otherwise the delay doubles per
// attempt up to a ceiling.
func CalculateBackoff(attempt int, retryAfterHint string, jitter JitterFunc) int {
	if jitter == nil {
		jitter = DefaultJitter
	}

	base := -1
	if hint := strings.TrimSpace(retryAfterHint); hint != "" {
		if secs, err := strconv.Atoi(hint); err == nil && secs >= 0 {
			base = secs * 1000
		}
	}

	if base < 0 {
		exp := float64(initialBackoffMs) * math.Pow(2, float64(attempt))
		base = int(math.Min(exp, float64(maxBackoffMs)))
	}

	return jitter(base)
}
