// Package resource bounds the background work the library performs on
// behalf of callers: bulk dataset reads and attachment retention sweeps
// share one worker budget and one IO byte budget.
package resource

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxWorkers is the maximum number of concurrent background tasks.
	// If 0, defaults to 1.
	MaxWorkers int64

	// IOLimitBytesPerSec caps background IO throughput. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Limiter coordinates background concurrency and IO throughput.
// A nil *Limiter is valid and enforces nothing.
type Limiter struct {
	workers   *semaphore.Weighted
	ioLimiter *rate.Limiter
}

// NewLimiter creates a Limiter from cfg.
func NewLimiter(cfg Config) *Limiter {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}

	l := &Limiter{
		workers: semaphore.NewWeighted(cfg.MaxWorkers),
	}

	if cfg.IOLimitBytesPerSec > 0 {
		l.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return l
}

// Acquire reserves a worker slot, blocking until one is free or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}

	return l.workers.Acquire(ctx, 1)
}

// TryAcquire reserves a worker slot without blocking.
func (l *Limiter) TryAcquire() bool {
	if l == nil {
		return true
	}

	return l.workers.TryAcquire(1)
}

// Release frees a worker slot.
func (l *Limiter) Release() {
	if l == nil {
		return
	}

	l.workers.Release(1)
}

// WaitIO blocks until the IO budget allows bytes more bytes.
func (l *Limiter) WaitIO(ctx context.Context, bytes int) error {
	if l == nil || l.ioLimiter == nil || bytes <= 0 {
		return nil
	}

	// rate.Limiter cannot wait for more than its burst in one call.
	for bytes > 0 {
		n := bytes
		if burst := l.ioLimiter.Burst(); n > burst {
			n = burst
		}
		if err := l.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}

	return nil
}
