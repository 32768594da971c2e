// Package display holds the display execution context and the display list.
//
// Every read and write of the display list happens on the Executor goroutine. The
// executor's queue mutex is a leaf lock: it is never held while a job runs and no
// other lock is taken while holding it.
package display

import (
	"context"
	"errors"
	"sync"
)

// ErrExecutorStopped is returned for jobs submitted after Stop.
var ErrExecutorStopped = errors.New("display executor stopped")

// Executor runs posted jobs one at a time, in posting order, on a single goroutine.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewExecutor creates an executor. Jobs queue up until Start is called.
func NewExecutor() *Executor {
	e := &Executor{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start launches the executor goroutine.
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.closed {
		return
	}
	e.started = true
	e.wg.Add(1)
	go e.loop()
}

// Post queues job. It returns false once the executor has been stopped.
func (e *Executor) Post(job func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.queue = append(e.queue, job)
	e.cond.Signal()
	return true
}

// Call runs fn on the executor and waits for it, or for ctx to end.
// It must not be called from a job running on the executor.
func (e *Executor) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !e.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrExecutorStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new jobs, runs the ones already queued and waits for the goroutine to exit.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.closed = true
	started := e.started
	e.cond.Broadcast()
	e.mu.Unlock()

	if started {
		e.wg.Wait()
	}
}

func (e *Executor) loop() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		job := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		job()
	}
}
