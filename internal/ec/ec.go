// Package ec implements the execution context: a per-RSS-queue poll
// scheduler that multiplexes notify callers, inline callers, and its
// own background dispatcher, running the user's poll function at most
// once at a time and only on its designated "owning" CPU.
//
// Grounded on the teacher's internal/queue/runner.go ioLoop (pin to an
// OS thread via runtime.LockOSThread, then unix.SchedSetaffinity to an
// ideal CPU, round-robin per queue index) for the CPU-pinned dispatcher
// goroutine, generalized from "one fixed OS thread per queue" to
// "retarget to a new ideal processor on migration" per spec §4.1.
package ec

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"golang.org/x/sys/unix"

	"github.com/xdpgeneric/xdpgeneric/internal/constants"
)

// PollFunc runs one unit of poll work and reports whether there is more
// work to do immediately (true) or the caller has drained its queue
// (false).
type PollFunc func(ctx context.Context) (more bool)

// IdealProcessor is read by the EC to learn its current target CPU;
// RSS updates this as the indirection table is republished.
type IdealProcessor interface {
	Load() int
}

// EC is one execution context instance, one per RSS queue.
type EC struct {
	poll       PollFunc
	ctx        context.Context
	idealProc  IdealProcessor

	// armed/inPoll need compare-and-swap transitions; atomix's confirmed
	// surface (LoadRelaxed/LoadAcquire/StoreRelease, per lfq's spsc.go)
	// has no documented CAS, so these two use sync/atomic directly
	// rather than assume an unconfirmed method on the pack's type.
	armed  atomic.Bool
	inPoll atomic.Bool

	mu               sync.Mutex
	owningProcessor  int // -1 == unset
	dispatch         chan struct{}

	cleanupRequested atomix.Bool
	cleanupComplete  chan struct{}
	cleanupOnce      sync.Once

	cancel context.CancelFunc
	done   chan struct{}
}

const noOwningProcessor = -1

// Initialize creates and starts an EC bound to poll, driven by ctx, and
// tracking idealProc for CPU migration.
func Initialize(ctx context.Context, poll PollFunc, idealProc IdealProcessor) *EC {
	runCtx, cancel := context.WithCancel(ctx)
	e := &EC{
		poll:            poll,
		ctx:             runCtx,
		idealProc:       idealProc,
		owningProcessor: noOwningProcessor,
		dispatch:        make(chan struct{}, 1),
		cleanupComplete: make(chan struct{}),
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	e.armed.Store(true)
	go e.dispatcher()
	return e
}

// Notify wakes the execution context. If it was armed (idle) the
// dispatcher goroutine is signaled to run a poll quantum; if it was not
// armed the call does nothing. Notify never runs the quantum on the
// calling goroutine; only EnterInline runs a quantum inline.
func (e *EC) Notify() {
	wasArmed := e.armed.Swap(false)
	if !wasArmed {
		return
	}
	select {
	case e.dispatch <- struct{}{}:
	default:
	}
}

// EnterInline attempts to run a poll quantum inline on the calling
// goroutine when it is already executing on the EC's owning CPU and no
// quantum is in flight. Returns whether it ran inline.
func (e *EC) EnterInline(cpu int) bool {
	if e.inPoll.Load() {
		return false
	}
	e.mu.Lock()
	owning := e.owningProcessor
	e.mu.Unlock()
	if owning != cpu {
		return false
	}
	if !e.inPoll.CompareAndSwap(false, true) {
		return false
	}
	e.runQuantum()
	e.inPoll.Store(false)
	return true
}

// ExitInline is a no-op placeholder maintained for symmetry with
// EnterInline; the quantum itself clears in_poll when it finishes.
func (e *EC) ExitInline() {}

// dispatcher is the EC's background goroutine: it pins itself to the
// owning processor (when known) and runs a poll quantum each time it is
// signaled, retargeting to a new ideal processor when migration occurs.
func (e *EC) dispatcher() {
	defer close(e.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.dispatch:
		}

		e.pinToIdealProcessor()

		if e.inPoll.CompareAndSwap(false, true) {
			e.runQuantum()
			e.inPoll.Store(false)
		}

		if e.cleanupRequested.LoadAcquire() {
			e.finishCleanup()
			return
		}
	}
}

// pinToIdealProcessor realizes the EC's CPU-migration rule: if the
// current owning processor no longer matches RSS's ideal processor,
// set owning to the new value and pin the dispatcher's OS thread there.
func (e *EC) pinToIdealProcessor() {
	if e.idealProc == nil {
		return
	}
	ideal := e.idealProc.Load()

	e.mu.Lock()
	migrated := e.owningProcessor != ideal
	e.owningProcessor = ideal
	e.mu.Unlock()

	if !migrated || ideal < 0 {
		return
	}

	var mask unix.CPUSet
	mask.Set(ideal)
	_ = unix.SchedSetaffinity(0, &mask) // best-effort, not fatal
}

// runQuantum calls poll up to PollQuantumIterations times while it
// reports more work, then performs the rearm probe to close the TOCTOU
// race against a concurrent Notify.
func (e *EC) runQuantum() {
	var w spin.Wait
	for i := 0; i < constants.PollQuantumIterations; i++ {
		if !e.poll(e.ctx) {
			break
		}
		w.Once()
	}

	// Rearm probe: announce armed, then poll once more. If that probe
	// finds more work, re-notify so the dispatcher runs again instead
	// of leaving work stranded behind a race with an external Notify
	// that observed armed==false just before this store.
	e.armed.Store(true)
	if e.poll(e.ctx) {
		e.Notify()
	}
}

// RequestCleanup asks the EC to stop after its current quantum and
// signals cleanupComplete once it has. Idempotent.
func (e *EC) RequestCleanup() {
	e.cleanupRequested.StoreRelease(true)
	e.Notify()
}

func (e *EC) finishCleanup() {
	e.cleanupOnce.Do(func() { close(e.cleanupComplete) })
}

// WaitCleanup blocks until RequestCleanup's effect has completed.
func (e *EC) WaitCleanup() {
	<-e.cleanupComplete
}

// Cleanup requests cleanup, waits for it, and stops the dispatcher.
func (e *EC) Cleanup() {
	e.RequestCleanup()
	e.WaitCleanup()
	e.cancel()
	<-e.done
}
