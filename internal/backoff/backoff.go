// Package backoff provides retry delay strategies shared by the event
// publishers and startup recovery.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always waits Interval.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration {
	return c.Interval
}

// Exponential multiplies the delay by Factor each attempt, capped at Max.
// A Factor below 1 is treated as 2.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

func NewExponential(initial, maxDelay time.Duration, factor float64) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Factor: factor}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	factor := e.Factor
	if factor < 1 {
		factor = 2
	}
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Initial) * math.Pow(factor, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Jitter spreads Base's delay uniformly over [d/2, d].
type Jitter struct {
	Base Strategy
}

func (j Jitter) Delay(attempt int) time.Duration {
	d := j.Base.Delay(attempt)
	if d <= 0 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1)) //nolint:gosec // jitter needs no crypto rand
}

// Retry calls fn up to attempts times, sleeping strategy.Delay(n) between
// failures. It stops early when ctx ends or fn returns a Permanent error.
func Retry(ctx context.Context, attempts int, strategy Strategy, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if p, ok := err.(*permanentError); ok {
			return p.err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(strategy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }

func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
