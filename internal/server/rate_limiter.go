package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter builds the per-connection event limiter: a bucket of
// capacity tokens refilled evenly over interval.
func newRateLimiter(capacity int, interval time.Duration) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Every(interval/time.Duration(capacity)), capacity)
}
