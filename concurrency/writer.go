// Package concurrency carries the read-write access discipline of a
// session opened on a container: a single, owning write handle, all
// mutations serialized through a message queue, readers sharing an
// immutable, lock-free snapshot of the committed root.
package concurrency

import (
	"context"
	"fmt"
)

// job is a message dispatched onto the writer's queue: it runs fn
// against the mutable state owned by the WriterHandle and reports its
// error on done.
type job struct {
	ctx  context.Context
	fn   func() error
	done chan error
}

// WriterHandle is the only entry point allowed to mutate a read-write
// session's state. Every mutating operation (put, put_batch, supersede,
// delete, stage_for_commit, commit) is submitted as a function to the
// queue; a single goroutine runs them in submission order, preserving
// the session's ordering guarantee: "mutations are applied in issue
// order".
type WriterHandle struct {
	jobs   chan job
	closed chan struct{}
	done   chan struct{}
}

// NewWriterHandle starts the writer's dispatch loop. queueDepth bounds
// the number of pending submissions before Submit blocks the caller; 0
// or negative falls back to an unbuffered queue.
func NewWriterHandle(queueDepth int) *WriterHandle {
	if queueDepth < 0 {
		queueDepth = 0
	}
	w := &WriterHandle{
		jobs:   make(chan job, queueDepth),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *WriterHandle) loop() {
	defer close(w.done)
	for {
		select {
		case j := <-w.jobs:
			w.run(j)
		case <-w.closed:
			// Drain whatever is already queued before stopping; nothing new
			// can be submitted once closed is closed.
			for {
				select {
				case j := <-w.jobs:
					w.run(j)
				default:
					return
				}
			}
		}
	}
}

func (w *WriterHandle) run(j job) {
	if err := j.ctx.Err(); err != nil {
		// Canceled before execution: the pending view saw no partial
		// effect since fn never runs.
		j.done <- err
		return
	}
	j.done <- j.fn()
}

// Submit dispatches fn for exclusive execution on the write handle and
// blocks until it runs or ctx is canceled. If ctx is canceled before fn
// gets to run, fn is never called — the pending view remains exactly as
// of the last completed call boundary, per the session's cancellation
// contract.
func (w *WriterHandle) Submit(ctx context.Context, fn func() error) error {
	select {
	case <-w.closed:
		return fmt.Errorf("concurrency: writer handle is closed")
	default:
	}
	done := make(chan error, 1)
	select {
	case w.jobs <- job{ctx: ctx, fn: fn, done: done}:
	case <-w.closed:
		return fmt.Errorf("concurrency: writer handle is closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the dispatch loop after draining submissions already
// queued. Later submissions fail.
func (w *WriterHandle) Close() {
	select {
	case <-w.closed:
		return
	default:
		close(w.closed)
	}
	<-w.done
}
