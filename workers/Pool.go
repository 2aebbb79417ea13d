/*
File Name:  Pool.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Bounded worker pool for per-request tasks: lookup queries, store and find-value fan-outs, asynchronous pings and mining.
Tasks must not submit nested tasks into the same pool and wait for them, otherwise the pool may deadlock when saturated.
*/

package workers

import (
	"context"
	"sync"

	"github.com/zeebo/errs"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned when submitting to a closed pool
var ErrClosed = errs.Class("pool closed")

// Pool runs tasks with bounded concurrency.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pool running at most size tasks at a time. Size is at least 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{sem: semaphore.NewWeighted(int64(size)), ctx: ctx, cancel: cancel}
}

// Go waits for a free slot and runs the task in a new goroutine. It fails if the context is done or the pool is closed.
func (pool *Pool) Go(ctx context.Context, task func()) error {
	if pool.ctx.Err() != nil {
		return ErrClosed.New("")
	}

	ctx, cancel := mergeContext(ctx, pool.ctx)
	defer cancel()

	if err := pool.sem.Acquire(ctx, 1); err != nil {
		if pool.ctx.Err() != nil {
			return ErrClosed.Wrap(err)
		}
		return err
	}

	pool.wg.Add(1)
	go func() {
		defer pool.wg.Done()
		defer pool.sem.Release(1)
		task()
	}()

	return nil
}

// TryGo runs the task if a slot is free right now. It returns false otherwise.
func (pool *Pool) TryGo(task func()) bool {
	if pool.ctx.Err() != nil || !pool.sem.TryAcquire(1) {
		return false
	}

	pool.wg.Add(1)
	go func() {
		defer pool.wg.Done()
		defer pool.sem.Release(1)
		task()
	}()

	return true
}

// Context returns a context that is cancelled when the pool is closed. Long-running tasks should observe it.
func (pool *Pool) Context() context.Context {
	return pool.ctx
}

// Wait waits until all running tasks finished.
func (pool *Pool) Wait() {
	pool.wg.Wait()
}

// Close rejects new tasks, cancels the pool context and waits for running tasks. It is safe to call multiple times.
func (pool *Pool) Close() {
	pool.cancel()
	pool.wg.Wait()
}

// mergeContext returns a context that is done when either parent is done.
func mergeContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
