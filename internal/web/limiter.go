package web

// limiter.go bounds concurrent batch lookups.
//
// A single lookup is cheap, but a batch of thousands of addresses holds a
// request goroutine and builds a large response. The limiter admits at most
// a fixed number of batches at once; later ones wait up to maxWait for a
// slot and are then rejected with ErrTooManyBatches.

import (
	"context"
	"errors"
	"time"
)

// ErrTooManyBatches is returned when no batch slot frees up in time.
var ErrTooManyBatches = errors.New("too many concurrent batch lookups, rate limit reached")

// DefaultMaxWait is how long a batch waits for a slot before rejection.
const DefaultMaxWait = 5 * time.Second

// BatchLimiter is a counting semaphore for batch lookups.
type BatchLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
}

// NewBatchLimiter allows at most maxConcurrent batches at once.
func NewBatchLimiter(maxConcurrent int, maxWait time.Duration) *BatchLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &BatchLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot, waiting up to maxWait. The caller must Release a
// successfully acquired slot exactly once.
func (l *BatchLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrTooManyBatches
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot.
func (l *BatchLimiter) Release() {
	<-l.slots
}

// Active returns the number of batches being served.
func (l *BatchLimiter) Active() int {
	return len(l.slots)
}

// WaitForDrain blocks until no batch is in flight or ctx is done.
func (l *BatchLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for l.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
