// Package backoff computes retry delays. Strategies are stateless and safe for
// concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Linear grows the delay with the attempt number: min(Initial * attempt, Max).
// Delivery retries use it.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

func (l *Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && (d > l.Max || d < 0) {
		return l.Max
	}
	return d
}

// Exponential doubles the delay each attempt, capped at Max, then adds up to
// Jitter (a fraction of the delay) of random spread. Session restarts use it.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

func NewExponential(initial, maxDelay time.Duration, jitter float64) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: jitter}
}

// Base returns the un-jittered delay for attempt.
func (e *Exponential) Base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	return time.Duration(d)
}

func (e *Exponential) Delay(attempt int) time.Duration {
	d := e.Base(attempt)
	if e.Jitter <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*e.Jitter*float64(d)) //nolint:gosec // jitter does not need crypto rand
}
