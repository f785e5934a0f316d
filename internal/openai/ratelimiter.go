package openai

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter spaces out requests to the backend. A nil *rateLimiter never
// blocks.
type rateLimiter struct {
	lim *rate.Limiter
}

// newRateLimiter allows n units of work over the provided time window, e.g.
// newRateLimiter(20, time.Minute). Bursts up to n are allowed. A non-positive
// n disables limiting and returns nil.
func newRateLimiter(n float64, window time.Duration) *rateLimiter {
	if n <= 0 || window <= 0 {
		return nil
	}
	every := time.Duration(float64(window) / n)
	burst := max(int(n), 1)
	return &rateLimiter{lim: rate.NewLimiter(rate.Every(every), burst)}
}

// Acquire returns nil if work can proceed. If the provided context is Done
// Acquire will return an error. If the bucket is empty, Acquire will sleep
// until a token is available.
func (rl *rateLimiter) Acquire(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.lim.Wait(ctx)
}
