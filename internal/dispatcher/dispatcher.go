// Package dispatcher serializes every command into a single-writer FIFO
// queue (spec §5), grounded on the teacher's pkg/concurrency.WorkerPool
// (itself a thin wrapper over alitto/pond), pinned to exactly one worker so
// submitted commands execute strictly in arrival order. Inbound throughput
// is defensively capped with golang.org/x/time/rate the way the teacher's
// internal/trading/order.OrderExecutor rate-limits outbound order calls.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/alitto/pond"
	"golang.org/x/time/rate"

	"mockexchange/internal/core"
)

// Dispatcher runs submitted commands one at a time, in submission order.
type Dispatcher struct {
	pool        *pond.WorkerPool
	rateLimiter *rate.Limiter
	logger      core.Logger
}

// Config tunes the dispatcher's queue depth and inbound rate limit.
type Config struct {
	QueueCapacity int
	RateLimit     float64 // commands/sec, 0 disables limiting
	Burst         int
}

// New builds a Dispatcher with a single worker so every task it runs is
// fully serialized with respect to every other task.
func New(cfg Config, logger core.Logger) *Dispatcher {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1000
	}

	pool := pond.New(1, cfg.QueueCapacity, pond.MinWorkers(1),
		pond.PanicHandler(func(p interface{}) {
			if logger != nil {
				logger.Error("dispatcher worker panic recovered", "panic", p)
			}
		}),
	)

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Dispatcher{pool: pool, rateLimiter: limiter, logger: logger}
}

// Do enqueues fn and blocks until it has run, returning its error. Commands
// submitted concurrently from multiple callers still execute one at a time,
// in submission order, because the underlying pool has exactly one worker.
func (d *Dispatcher) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("dispatcher rate limit wait: %w", err)
		}
	}

	var result error
	done := make(chan struct{})
	d.pool.Submit(func() {
		result = fn(ctx)
		close(done)
	})

	select {
	case <-done:
		return result
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueLength returns the number of tasks currently waiting plus running.
func (d *Dispatcher) QueueLength() int64 {
	return int64(d.pool.WaitingTasks()) + int64(d.pool.RunningWorkers())
}

// Stop drains the queue and shuts the pool down; call during graceful exit.
func (d *Dispatcher) Stop() {
	d.pool.StopAndWait()
}

// ScheduleAfter runs fn once, after delay, on the dispatcher's own queue so
// the settle callback for a market order still serializes with every other
// command (spec §2: "market orders persist and schedule a delayed settle
// callback").
func (d *Dispatcher) ScheduleAfter(ctx context.Context, delay time.Duration, fn func(ctx context.Context) error) *time.Timer {
	return time.AfterFunc(delay, func() {
		if err := d.Do(ctx, fn); err != nil && d.logger != nil {
			d.logger.Error("scheduled command failed", "error", err)
		}
	})
}
