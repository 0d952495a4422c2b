package ratelimiter

import (
	"context"
	"time"
)

// BurstyLimiter is a token bucket: it starts full so a burst of capacity
// requests goes through at once, then refills one token per rate.
type BurstyLimiter struct {
	capacity int
	rate     time.Duration
	tokens   chan time.Time
	stop     chan struct{}
}

func NewBurstyLimiter(capacity int, rate time.Duration) *BurstyLimiter {
	tokens := make(chan time.Time, capacity)

	// Fill initial burst
	for i := 0; i < capacity; i++ {
		tokens <- time.Now()
	}

	b := &BurstyLimiter{
		capacity: capacity,
		rate:     rate,
		tokens:   tokens,
		stop:     make(chan struct{}),
	}
	go b.refill()

	return b
}

// refill adds a token every rate until Stop. A full bucket drops the tick.
func (b *BurstyLimiter) refill() {
	ticker := time.NewTicker(b.rate)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case t := <-ticker.C:
			select {
			case b.tokens <- t:
			default:
			}
		}
	}
}

// Take waits for a token
func (b *BurstyLimiter) Take(ctx context.Context) error {
	select {
	case <-b.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Allow takes a token if one is available right now.
func (b *BurstyLimiter) Allow() bool {
	select {
	case <-b.tokens:
		return true
	default:
		return false
	}
}

func (b *BurstyLimiter) Stop() {
	close(b.stop)
}
