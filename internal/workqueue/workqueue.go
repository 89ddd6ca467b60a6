// Package workqueue implements the generic serialized work queue: any
// number of producers insert entries, and a single background worker
// drains and runs them in submission order, with at most one worker
// outstanding at a time.
//
// Grounded on the teacher's internal/queue/runner.go single-goroutine
// drain loop, generalized from "drain fixed I/O requests" to "drain an
// arbitrary routine" per spec §4.3, and backed by
// code.hybscloud.com/lfq's MPSC queue for the insert side.
package workqueue

import (
	"context"
	"sync"

	"code.hybscloud.com/lfq"
	"code.hybscloud.com/spin"
)

// Routine is a unit of work run by the queue's worker.
type Routine func()

// Queue is a single-worker, multi-producer serialized work queue.
type Queue struct {
	entries *lfq.MPSC[Routine]

	mu       sync.Mutex
	priority int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a queue with the given backlog capacity and starts its
// worker goroutine.
func New(capacity int) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		entries: lfq.NewMPSC[Routine](capacity),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.run(ctx)
	return q
}

// Insert appends routine to the tail of the queue (spec: "insert
// atomically appends to tail; if tail was null, schedules a worker" —
// here the worker is always running and simply wakes on the next poll).
func (q *Queue) Insert(routine Routine) {
	var w spin.Wait
	for {
		if err := q.entries.Enqueue(&routine); err == nil {
			return
		}
		w.Once()
	}
}

// SetPriority records a priority hint for the worker goroutine. This is
// advisory only; Go's scheduler does not expose OS thread priorities
// the way the original driver's low-realtime worker thread does.
func (q *Queue) SetPriority(priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.priority = priority
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	var w spin.Wait
	for {
		shuttingDown := false
		select {
		case <-ctx.Done():
			shuttingDown = true
		default:
		}

		ran := false
		for {
			routine, err := q.entries.Dequeue()
			if err != nil {
				break
			}
			routine()
			ran = true
		}

		if shuttingDown {
			return
		}
		if ran {
			w.Reset()
		} else {
			w.Once()
		}
	}
}

// Shutdown stops the worker after running any entries still queued.
// If wait is true it then waits for the worker to exit (spec: "Shutdown
// with wait uses a signaled event set by the worker when tail becomes
// null"); otherwise it returns without waiting.
func (q *Queue) Shutdown(wait bool) {
	q.cancel()
	if wait {
		<-q.done
	}
}
