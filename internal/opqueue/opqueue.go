// Package opqueue provides a serial operation queue: submitted async
// operations run strictly in submission order, one at a time. The
// persistence layers use it so file writes never overlap and the last
// scheduled value deterministically wins.
package opqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("opqueue: closed")

// Op is a zero-argument operation executed by the queue.
type Op func() error

// Future tracks the completion of one submitted operation.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolvedFuture returns an already-completed Future with the given error.
func resolvedFuture(err error) *Future {
	f := newFuture()
	f.err = err
	close(f.done)
	return f
}

// Promise returns an unresolved Future and the function that resolves
// it. Callers that coalesce several logical operations into one queue
// submission hand the same Future to every waiter.
func Promise() (*Future, func(err error)) {
	f := newFuture()
	var once sync.Once
	return f, func(err error) {
		once.Do(func() {
			f.err = err
			close(f.done)
		})
	}
}

// Done returns a channel closed when the operation has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the operation's error. It blocks until completion.
func (f *Future) Err() error {
	<-f.done
	return f.err
}

// Wait blocks until the operation finishes or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type task struct {
	op     Op
	future *Future
}

// Queue executes operations strictly in submission order. A failing
// operation rejects its own Future but never stops the chain.
type Queue struct {
	mu      sync.Mutex
	tasks   chan task
	tail    *Future
	closed  bool
	drained chan struct{}
}

// New creates a Queue and starts its drainer goroutine.
func New() *Queue {
	q := &Queue{
		tasks:   make(chan task, 256),
		tail:    resolvedFuture(nil),
		drained: make(chan struct{}),
	}
	go q.drain()
	return q
}

func (q *Queue) drain() {
	defer close(q.drained)
	for t := range q.tasks {
		t.future.err = t.op()
		close(t.future.done)
	}
}

// Submit enqueues op and returns its Future. After Close, Submit
// returns an already-rejected Future.
func (q *Queue) Submit(op Op) *Future {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return resolvedFuture(ErrClosed)
	}
	f := newFuture()
	q.tail = f
	q.tasks <- task{op: op, future: f}
	return f
}

// Current returns the Future of the most recently submitted operation.
// Waiting on it quiesces the queue as of the call.
func (q *Queue) Current() *Future {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tail
}

// Close stops accepting new operations and blocks until all previously
// submitted operations have run.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.drained
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	<-q.drained
}
