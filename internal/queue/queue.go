// Copyright 2025 James Ross
// Package queue implements the Local Job Queue: a bounded, in-process
// multi-worker dispatcher with supervised worker respawn, grounded on
// internal/worker.Run's worker-pool shape and internal/breaker's
// circuit breaker, repurposed from Redis-command tripping to worker-crash
// tripping.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dataextractd/dataextractd/internal/breaker"
	"github.com/dataextractd/dataextractd/internal/config"
	"github.com/dataextractd/dataextractd/internal/obs"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Submit when the backlog is at capacity.
var ErrQueueFull = errors.New("queue: backlog at capacity")

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("queue: stopped")

// Item is one unit of queued work: an opaque job id plus a caller-defined
// payload, mirroring original_source's QueuedJob(job_id, payload).
type Item struct {
	JobID   string
	Payload any
}

// Handler processes one dequeued Item. Handler errors are trapped by the
// queue and routed to ErrorHandler; they never crash the worker.
type Handler func(ctx context.Context, item Item) error

// ErrorHandler observes a handler failure for one item.
type ErrorHandler func(item Item, err error)

// Queue is a bounded multi-worker in-process job queue.
type Queue struct {
	cfg     config.Queue
	handler Handler
	onError ErrorHandler
	log     *zap.Logger

	items   chan Item
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex

	cb    *breaker.CircuitBreaker
	alive int
	aliveMu sync.Mutex

	wg sync.WaitGroup
}

// New builds a Queue; Start must be called to launch workers.
func New(cfg config.Queue, breakerCfg config.Breaker, handler Handler, onError ErrorHandler, log *zap.Logger) *Queue {
	return &Queue{
		cfg:     cfg,
		handler: handler,
		onError: onError,
		log:     log,
		items:   make(chan Item, cfg.Capacity),
		stopCh:  make(chan struct{}),
		cb:      breaker.New(breakerCfg.Window, breakerCfg.CooldownPeriod, breakerCfg.FailureThreshold, breakerCfg.MinSamples),
	}
}

// Submit enqueues an Item, FIFO, failing with ErrQueueFull if the backlog
// is at capacity and ErrStopped once shutdown has begun. It blocks up to
// cfg.SubmitTimeout if the channel is momentarily full, but never blocks
// indefinitely: workers must never block the submitter.
func (q *Queue) Submit(ctx context.Context, item Item) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.mu.Unlock()

	timer := time.NewTimer(q.cfg.SubmitTimeout)
	defer timer.Stop()
	select {
	case q.items <- item:
		obs.JobsSubmitted.Inc()
		obs.QueueBacklog.Set(float64(len(q.items)))
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stopCh:
		return ErrStopped
	}
}

// Start launches cfg.WorkerCount supervised worker goroutines. Start
// returns immediately; workers run until Stop is called.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.WorkerCount; i++ {
		q.wg.Add(1)
		go q.superviseWorker(ctx, i)
	}
	go q.reportBreakerState(ctx)
}

// superviseWorker runs worker i, respawning it after a recovered panic.
// While the worker-restart breaker refuses (Open within its cooldown, or
// HalfOpen with its probe already granted), the respawn is delayed by
// one second and then goes ahead; it is not skipped.
func (q *Queue) superviseWorker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		crashed := q.runWorkerOnce(ctx, id)
		if !crashed {
			return // clean exit: ctx canceled or queue stopped
		}
		obs.QueueWorkerRestarts.Inc()
		prev := q.cb.State()
		q.cb.Record(false)
		if q.cb.State() == breaker.Open && prev != breaker.Open {
			obs.BreakerTrips.Inc()
		}
		if !q.cb.Allow() {
			// breaker refuses: delay this respawn by one second
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-time.After(time.Second):
			}
			continue
		}
		q.log.Warn("queue worker respawned after crash", obs.Int("worker_id", id))
	}
}

// runWorkerOnce drives the dequeue loop; it returns true if the worker
// goroutine is exiting due to a recovered panic (and should be respawned),
// false for a clean shutdown.
func (q *Queue) runWorkerOnce(ctx context.Context, id int) (crashed bool) {
	q.setAlive(1)
	defer q.setAlive(-1)
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("queue worker panic", obs.Int("worker_id", id), obs.String("recover", fmt.Sprint(r)))
			crashed = true
		}
	}()

	const pollTimeout = 200 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return false
		case <-q.stopCh:
			return false
		case item := <-q.items:
			obs.QueueBacklog.Set(float64(len(q.items)))
			obs.JobsDispatched.Inc()
			q.process(ctx, item)
		case <-time.After(pollTimeout):
			continue
		}
	}
}

func (q *Queue) process(ctx context.Context, item Item) {
	if err := q.handler(ctx, item); err != nil {
		if q.onError != nil {
			q.onError(item, err)
		}
	}
}

func (q *Queue) setAlive(delta int) {
	q.aliveMu.Lock()
	q.alive += delta
	n := q.alive
	q.aliveMu.Unlock()
	obs.QueueWorkersAlive.Set(float64(n))
}

func (q *Queue) reportBreakerState(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			switch q.cb.State() {
			case breaker.Closed:
				obs.BreakerState.Set(0)
			case breaker.HalfOpen:
				obs.BreakerState.Set(1)
			case breaker.Open:
				obs.BreakerState.Set(2)
			}
		}
	}
}

// Stop signals shutdown; in-flight items finish, then workers exit. It
// waits up to timeout for a clean join.
func (q *Queue) Stop(timeout time.Duration) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		q.log.Warn("queue stop timed out waiting for workers to join")
	}
}

// Backlog returns the current number of items waiting to be dequeued.
func (q *Queue) Backlog() int { return len(q.items) }
