package infra

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 200 * time.Millisecond
	backoffCap  = 5 * time.Second
)

// CalculateBackoff returns the delay before retry number attempt (1-based):
// exponential from 200ms capped at 5s, with up to 25% jitter so concurrent
// retries don't synchronize.
func CalculateBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase << (attempt - 1)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}
