// Package lifetime implements the deferred-deletion arena: a producer
// submits a destructor, and a dedicated worker sweeps every active CPU
// before running it, guaranteeing no concurrent per-CPU work still
// holds a raw reference to the object being freed.
//
// Grounded on the teacher's internal/queue/runner.go single-worker
// drain loop (a goroutine draining a channel/queue until empty, then
// parking) generalized to run a per-CPU "DPC sweep" barrier first.
// Submission uses code.hybscloud.com/lfq's MPSC queue, since multiple
// RX/TX queue goroutines may call DeleteLater concurrently while only
// the arena's own worker drains it.
package lifetime

import (
	"context"
	"runtime"
	"sync"

	"code.hybscloud.com/lfq"
	"code.hybscloud.com/spin"
)

// entry is one deferred-deletion submission.
type entry struct {
	destructor func()
}

// Arena is a single serialized deferred-deletion worker. Safe for
// concurrent DeleteLater calls from any number of goroutines.
type Arena struct {
	queue *lfq.MPSC[entry]

	cpus int

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an arena sized for the given submission backlog and
// starts its worker goroutine. cpus is the per-CPU sweep fan-out width
// (runtime.NumCPU() in production; tests may pass a smaller value).
func New(capacity int, cpus int) *Arena {
	if cpus < 1 {
		cpus = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Arena{
		queue:  lfq.NewMPSC[entry](capacity),
		cpus:   cpus,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go a.run(ctx)
	return a
}

// DeleteLater submits destructor to run after the arena's next per-CPU
// sweep completes. If the backlog is full, it spins (backing off via
// spin.Wait) until the worker frees space; that wait has no upper
// bound.
func (a *Arena) DeleteLater(destructor func()) {
	e := entry{destructor: destructor}
	var w spin.Wait
	for {
		if err := a.queue.Enqueue(&e); err == nil {
			return
		}
		w.Once()
	}
}

// run is the arena's single worker: drain everything currently queued,
// perform one per-CPU sweep barrier, then run every drained entry's
// destructor, repeating until shut down.
func (a *Arena) run(ctx context.Context) {
	defer close(a.done)
	var w spin.Wait
	for {
		shuttingDown := false
		select {
		case <-ctx.Done():
			shuttingDown = true
		default:
		}

		batch := a.drainOnce()
		if len(batch) == 0 {
			if shuttingDown {
				return
			}
			w.Once()
			continue
		}
		w.Reset()

		a.sweep()
		for _, e := range batch {
			e.destructor()
		}

		if shuttingDown {
			return
		}
	}
}

// drainOnce pulls every currently-queued entry without blocking.
func (a *Arena) drainOnce() []entry {
	var batch []entry
	for {
		e, err := a.queue.Dequeue()
		if err != nil {
			break
		}
		batch = append(batch, e)
	}
	return batch
}

// sweep issues one "DPC" to each active CPU and waits for all of them
// to complete, draining every CPU through a synchronization point
// before any destructor in the current batch runs.
func (a *Arena) sweep() {
	var wg sync.WaitGroup
	wg.Add(a.cpus)
	for i := 0; i < a.cpus; i++ {
		go func() {
			defer wg.Done()
			runtime.Gosched()
		}()
	}
	wg.Wait()
}

// Shutdown stops the worker after draining and running any entries
// still queued, then waits for it to exit.
func (a *Arena) Shutdown() {
	a.cancel()
	<-a.done
}
