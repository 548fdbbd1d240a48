// Copyright 2025 James Ross
package jobservice

import (
	"context"
	"time"

	"github.com/dataextractd/dataextractd/internal/config"
	"github.com/dataextractd/dataextractd/internal/obs"
	"github.com/dataextractd/dataextractd/internal/persistence"
	"github.com/dataextractd/dataextractd/internal/queue"
	"go.uber.org/zap"
)

// Dispatcher implements the at-least-once dispatch subsystem, grounded
// directly on exactly_once.SQLOutboxManager.ProcessPending's
// polling/backoff/retry-budget shape, reimplemented against the SQLite
// persistence layer instead of Redis + Lua. A Job whose Submit to the
// Local Job Queue failed with a full queue is left `pending_dispatch`
// instead of dropped; this loop retries it until `dispatched` or
// `failed_dispatch` once dispatch_attempts reaches cfg.MaxAttempts.
type Dispatcher struct {
	store *persistence.Store
	q     *queue.Queue
	cfg   config.Dispatch
	log   *zap.Logger

	stopCh chan struct{}
}

func NewDispatcher(store *persistence.Store, q *queue.Queue, cfg config.Dispatch, log *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, q: q, cfg: cfg, log: log, stopCh: make(chan struct{})}
}

// Start begins background polling; it returns immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.processPending(ctx)
			}
		}
	}()
}

func (d *Dispatcher) Stop() { close(d.stopCh) }

func (d *Dispatcher) processPending(ctx context.Context) {
	jobs, err := d.store.ListPendingDispatch(ctx, time.Now().UTC())
	if err != nil {
		d.log.Error("dispatcher: list pending failed", obs.Err(err))
		return
	}
	for _, job := range jobs {
		d.dispatchOne(ctx, job)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, job *persistence.Job) {
	err := d.q.Submit(ctx, queue.Item{JobID: job.ID, Payload: []byte(job.DispatchPayload)})
	attempts := job.DispatchAttempts + 1

	if err == nil {
		if err := d.store.UpdateDispatchState(ctx, job.ID, persistence.DispatchDone, attempts, nil, nil); err != nil {
			d.log.Error("dispatcher: mark dispatched failed", obs.String("job_id", job.ID), obs.Err(err))
		}
		return
	}

	msg := err.Error()
	obs.DispatchRetries.Inc()

	if attempts >= d.cfg.MaxAttempts {
		if err := d.store.UpdateDispatchState(ctx, job.ID, persistence.DispatchFailed, attempts, &msg, nil); err != nil {
			d.log.Error("dispatcher: mark failed_dispatch failed", obs.String("job_id", job.ID), obs.Err(err))
		}
		obs.DispatchFailures.Inc()
		return
	}

	next := time.Now().UTC().Add(backoffFor(attempts, d.cfg.Backoff.Base, d.cfg.Backoff.Max))
	if err := d.store.UpdateDispatchState(ctx, job.ID, persistence.DispatchRetrying, attempts, &msg, &next); err != nil {
		d.log.Error("dispatcher: mark retrying failed", obs.String("job_id", job.ID), obs.Err(err))
	}
}

func backoffFor(attempt int, base, max time.Duration) time.Duration {
	d := base * time.Duration(uint(1)<<uint(attempt))
	if d > max || d <= 0 {
		return max
	}
	return d
}
