// Package ratelimit paces the controller's calls into the external
// scheduler. It wraps a single token-bucket limiter so a sweep over
// thousands of spool units cannot poll bqueues/bjobs faster than
// the operator's configured pacing, even when most units skip quickly
// past the churn guard.
package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// Error represents a rate limiting error.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	var rateLimitErr *Error
	return errors.As(err, &rateLimitErr)
}

// Limiter paces admission into the scheduler adapter with a single
// global token bucket: one token every period, burst 1.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a limiter admitting one call per period seconds.
// A non-positive period means unlimited.
func NewLimiter(period float64) *Limiter {
	if period <= 0 {
		return &Limiter{}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(1.0/period), 1)}
}

// Allow reports whether a call may proceed immediately.
func (l *Limiter) Allow() error {
	if l.limiter == nil {
		return nil
	}
	if !l.limiter.Allow() {
		return &Error{Message: "scheduler admission rate limit exceeded"}
	}
	return nil
}

// Wait blocks until a call is admitted or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return &Error{Message: fmt.Sprintf("scheduler admission wait cancelled: %v", err)}
	}
	return nil
}

// Stats reports the limiter's current state, mainly for diagnostics.
type Stats struct {
	Rate   float64
	Burst  int
	Tokens float64
}

// GetStats returns current statistics about the limiter.
func (l *Limiter) GetStats() Stats {
	if l.limiter == nil {
		return Stats{}
	}
	return Stats{
		Rate:   float64(l.limiter.Limit()),
		Burst:  l.limiter.Burst(),
		Tokens: l.limiter.Tokens(),
	}
}
