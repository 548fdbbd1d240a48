// Copyright 2025 James Ross
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dataextractd/dataextractd/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testQueueConfig() (config.Queue, config.Breaker) {
	return config.Queue{
			WorkerCount:   2,
			Capacity:      4,
			SubmitTimeout: 200 * time.Millisecond,
		}, config.Breaker{
			FailureThreshold: 0.5,
			Window:           time.Second,
			CooldownPeriod:   50 * time.Millisecond,
			MinSamples:       2,
		}
}

func TestQueue_ProcessesSubmittedItems(t *testing.T) {
	qcfg, bcfg := testQueueConfig()
	var processed int32
	var wg sync.WaitGroup
	wg.Add(3)
	handler := func(ctx context.Context, item Item) error {
		atomic.AddInt32(&processed, 1)
		wg.Done()
		return nil
	}
	q := New(qcfg, bcfg, handler, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Submit(ctx, Item{JobID: "job"}))
	}

	waitOrTimeout(t, &wg, 2*time.Second)
	require.EqualValues(t, 3, atomic.LoadInt32(&processed))
}

func TestQueue_HandlerErrorsAreTrapped(t *testing.T) {
	qcfg, bcfg := testQueueConfig()
	handler := func(ctx context.Context, item Item) error {
		return assertError{}
	}
	var errCount int32
	onErr := func(item Item, err error) { atomic.AddInt32(&errCount, 1) }

	q := New(qcfg, bcfg, handler, onErr, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(time.Second)

	require.NoError(t, q.Submit(ctx, Item{JobID: "fails"}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&errCount) == 1 }, time.Second, 10*time.Millisecond)
}

func TestQueue_SubmitFailsWhenFull(t *testing.T) {
	qcfg, bcfg := testQueueConfig()
	qcfg.Capacity = 1
	qcfg.SubmitTimeout = 30 * time.Millisecond
	qcfg.WorkerCount = 0 // no worker drains the channel

	block := make(chan struct{})
	handler := func(ctx context.Context, item Item) error {
		<-block
		return nil
	}
	q := New(qcfg, bcfg, handler, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, q.Submit(ctx, Item{JobID: "a"}))
	err := q.Submit(ctx, Item{JobID: "b"})
	require.ErrorIs(t, err, ErrQueueFull)
	close(block)
}

func TestQueue_StopRejectsFurtherSubmits(t *testing.T) {
	qcfg, bcfg := testQueueConfig()
	handler := func(ctx context.Context, item Item) error { return nil }
	q := New(qcfg, bcfg, handler, nil, zap.NewNop())
	ctx := context.Background()
	q.Start(ctx)
	q.Stop(time.Second)

	err := q.Submit(ctx, Item{JobID: "late"})
	require.ErrorIs(t, err, ErrStopped)
}

type assertError struct{}

func (assertError) Error() string { return "handler failed" }

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for items to process")
	}
}
