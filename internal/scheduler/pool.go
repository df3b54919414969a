// Package scheduler runs install procedure work off the queue's event loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Task is a unit of background work.
type Task func(ctx context.Context)

// Pool bounds how many heavy tasks run at once. Light tasks run without a
// slot: a task blocked on a patch barrier holds a slot, so the tasks that
// release it must never wait for one.
type Pool struct {
	ctx       context.Context
	cancel    context.CancelFunc
	sem       *semaphore.Weighted
	size      int
	wg        sync.WaitGroup
	accepting atomic.Bool
	log       *slog.Logger
	onPanic   func(any)
}

// New returns a pool with the given number of heavy slots.
func New(log *slog.Logger, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(workers)),
		size:   workers,
		log:    log.With("component", "scheduler"),
	}
	p.accepting.Store(true)
	p.log.Info("worker pool started", "workers", workers)
	return p
}

func (p *Pool) Size() int { return p.size }

// Submit runs task once a slot is free. Returns false if the pool is closed.
func (p *Pool) Submit(task Task) bool { return p.spawn(task, true) }

// Go runs task immediately without taking a slot.
func (p *Pool) Go(task Task) bool { return p.spawn(task, false) }

func (p *Pool) spawn(task Task, heavy bool) bool {
	if !p.accepting.Load() {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if heavy {
			if err := p.sem.Acquire(p.ctx, 1); err != nil {
				p.log.Warn("task dropped", "err", err)
				return
			}
			defer p.sem.Release(1)
		}
		p.run(task)
	}()
	return true
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			if p.onPanic != nil {
				p.onPanic(r)
			}
		}
	}()
	task(p.ctx)
}

// StopAccepting rejects further submissions.
func (p *Pool) StopAccepting() { p.accepting.Store(false) }

// Drain waits for submitted tasks, or cancels their context when ctx ends
// first and then waits for them to return.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info("worker pool drained")
	case <-ctx.Done():
		p.log.Warn("worker pool drain timed out")
		p.cancel()
		<-done
	}
	p.cancel()
}

// PanicError wraps a recovered panic value.
type PanicError struct{ Value any }

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

// Safely runs fn and converts a panic into a *PanicError.
func Safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}
