// Package tx implements the TX hairpin engine: Initiate drains the
// frame ring into the driver, Complete drains the completion ring back
// into the free pool, and Pause/Restart implement the drop-while-paused
// policy that lets queue deletion make progress under sustained input.
//
// Grounded on spec §4.8 ("a per-TX-queue free list ... refilled from a
// lock-free SList of completed-NBL returns. Initiate dequeues up to
// nbls_available frames from the XDP frame ring ... Completion pushes
// onto the SList and notifies the EC") and on the teacher's
// internal/queue/runner.go ioLoop alternation between fetching new work
// and reclaiming completed work. The completed-handle return path uses
// code.hybscloud.com/lfq's SPSC queue, matching SPEC_FULL's explicit
// "lfq.SPSC[frameHandle] per queue" sizing (single TX-complete producer,
// single drain consumer).
package tx

import (
	"errors"

	"code.hybscloud.com/lfq"
	"code.hybscloud.com/spin"

	"github.com/xdpgeneric/xdpgeneric/internal/queue"
	"github.com/xdpgeneric/xdpgeneric/internal/ring"
)

// maxDropsPerPoll bounds the drop-while-paused fast path (spec §4.8:
// "up to 1024 frames per poll").
const maxDropsPerPoll = 1024

// Driver is the subset of the NIC driver the TX engine needs: handing
// a descriptor off for actual transmission. internal/nic's
// implementations satisfy this.
type Driver interface {
	Send(d ring.Descriptor) error
}

// Observer receives TX engine events. Narrower than the root package's
// Observer so this package never imports it (root imports internal
// packages, never the reverse); xdpgeneric.MetricsObserver/NoOpObserver
// satisfy this interface structurally.
type Observer interface {
	ObserveTxFrame(bytes uint64)
	ObserveForwardingFailure()
	ObserveFramesDroppedPause()
}

// ErrQueueNotRunning is returned by Initiate/Complete when the queue's
// lifecycle state does not permit them.
var ErrQueueNotRunning = errors.New("tx: queue is not running")

// Engine drives one TXQueue's initiate/complete cycle. Initiate and
// Complete are called from the same EC poll quantum and are never
// invoked concurrently with each other, so the pending FIFO needs no
// locking of its own.
type Engine struct {
	q        *queue.TXQueue
	driver   Driver
	observer Observer

	// pending parallels the completion ring in submission order: nil
	// for a dropped-while-paused descriptor (no handle was checked
	// out), otherwise the handle to return to the free pool once the
	// matching completion is drained. Sized to the frame ring's
	// capacity, which bounds how many sends can be outstanding at once.
	pending *lfq.SPSC[*queue.FrameHandle]
}

// New creates an Engine over q, sending through driver and reporting to
// observer.
func New(q *queue.TXQueue, driver Driver, observer Observer) *Engine {
	return &Engine{
		q:        q,
		driver:   driver,
		observer: observer,
		pending:  lfq.NewSPSC[*queue.FrameHandle](q.FrameRing().Cap()),
	}
}

// pushPending enqueues h onto the pending FIFO, spinning briefly on the
// rare ErrWouldBlock (the FIFO is sized to the frame ring's capacity, so
// this only fires under pathological backpressure).
func (e *Engine) pushPending(h *queue.FrameHandle) {
	sw := spin.Wait{}
	for {
		if err := e.pending.Enqueue(&h); err == nil {
			return
		}
		sw.Once()
	}
}

// EnqueueFrame pushes a descriptor directly onto the frame ring, for
// ioctlsrv's TX_ENQUEUE debug operation (the normal TX path is driven
// by the hairpin engine's own Poll-time dispatch, not by an external
// caller pushing descriptors).
func (e *Engine) EnqueueFrame(d ring.Descriptor) error {
	return e.q.FrameRing().Push(d)
}

// Initiate drains up to the frame ring's pending descriptors, sending
// each through the driver, until the ring is empty or no free handle is
// available. Returns more=true if the ring still has pending work (the
// EC should re-run initiate on its next quantum iteration).
//
// While paused, frames are moved directly from the frame ring to the
// completion ring (spec §4.8 drop policy) instead of being sent,
// bounded by maxDropsPerPoll per call.
func (e *Engine) Initiate() (more bool, err error) {
	if e.q.State() == queue.StatePaused {
		return e.dropWhilePaused()
	}
	if e.q.State() != queue.StateRunning {
		return false, ErrQueueNotRunning
	}

	for {
		h, ok := e.q.Free().Get()
		if !ok {
			// No free handle: frame stays pending, caller retries next
			// quantum rather than busy-looping here.
			return e.q.FrameRing().Pending() > 0, nil
		}

		d, popErr := e.q.FrameRing().Pop()
		if popErr != nil {
			e.q.Free().Put(h)
			return false, nil
		}
		h.Addr = d.Addr
		h.Len = d.Len

		if sendErr := e.driver.Send(d); sendErr != nil {
			e.q.Free().Put(h)
			e.observer.ObserveForwardingFailure()
			continue
		}
		e.q.IncOutstanding()
		e.observer.ObserveTxFrame(uint64(d.Len))

		if err := e.q.CompletionRing().Push(d); err != nil {
			// Completion ring full: the send already happened, so the
			// handle is reclaimed directly rather than lost.
			e.q.DecOutstanding()
			e.q.Free().Put(h)
			continue
		}
		e.pushPending(h)
	}
}

// dropWhilePaused implements the drop-while-paused fast path.
func (e *Engine) dropWhilePaused() (more bool, err error) {
	for i := 0; i < maxDropsPerPoll; i++ {
		d, popErr := e.q.FrameRing().Pop()
		if popErr != nil {
			return false, nil
		}
		if pushErr := e.q.CompletionRing().Push(d); pushErr != nil {
			return true, nil
		}
		e.pushPending(nil)
		e.observer.ObserveFramesDroppedPause()
	}
	return e.q.FrameRing().Pending() > 0, nil
}

// Complete drains the completion ring, returning each descriptor's
// handle to the free pool and decrementing the outstanding count.
func (e *Engine) Complete() {
	for {
		_, err := e.q.CompletionRing().Pop()
		if err != nil {
			return
		}
		h, pendErr := e.pending.Dequeue()
		if pendErr != nil {
			return
		}
		if h != nil {
			if e.q.Outstanding() > 0 {
				e.q.DecOutstanding()
			}
			e.q.Free().Put(h)
		}
	}
}

// Pause transitions the queue to paused; subsequent Initiate calls take
// the drop-while-paused fast path instead of sending.
func (e *Engine) Pause() error {
	return e.q.Pause()
}

// Restart reverses Pause, allowing Initiate to resume sending.
func (e *Engine) Restart() error {
	return e.q.Start()
}
