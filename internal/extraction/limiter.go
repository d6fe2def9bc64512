package extraction

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentExecutions is the default limit for parallel executions.
const DefaultMaxConcurrentExecutions = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = time.Minute

// ExecutionLimiter bounds the number of executions running at once. An
// execution holds its slot from the first table it creates until its read,
// dump or save completes.
type ExecutionLimiter struct {
	sem     *semaphore.Weighted
	size    int64
	maxWait time.Duration
	active  atomic.Int64
}

// NewExecutionLimiter creates a limiter that allows at most maxConcurrent
// simultaneous executions, each waiting at most maxWait for a slot.
func NewExecutionLimiter(maxConcurrent int, maxWait time.Duration) *ExecutionLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentExecutions
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &ExecutionLimiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		size:    int64(maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire waits for a slot. It fails with ErrTooManyExecutions when none
// frees up within the wait time, or with ctx's error when ctx ends first.
// Every successful Acquire must be paired with Release.
func (l *ExecutionLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyExecutions
	}
	l.active.Add(1)
	return nil
}

// TryAcquire takes a slot only if one is free right now.
func (l *ExecutionLimiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.active.Add(1)
	return true
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *ExecutionLimiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// ActiveCount returns the number of running executions.
func (l *ExecutionLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// Available returns the number of free slots.
func (l *ExecutionLimiter) Available() int {
	return int(l.size - l.active.Load())
}

// WaitForDrain blocks until every running execution has released its slot,
// or ctx ends. Executions queued behind the drain wait for it to return.
func (l *ExecutionLimiter) WaitForDrain(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, l.size); err != nil {
		return err
	}
	l.sem.Release(l.size)
	return nil
}
