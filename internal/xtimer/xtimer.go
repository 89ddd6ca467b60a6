// Package xtimer implements the datapath's cancelable one-shot timer:
// create/start/cancel/shutdown with idempotent cancel semantics and a
// cancel-event race resolution between a firing timer and a concurrent
// cancel call.
//
// Grounded on spec §4.4; no direct teacher analogue (the teacher has no
// timer abstraction), so the pushlock/spinlock split is modeled with a
// sync.RWMutex (serializing start/cancel/fire, matching the pushlock's
// role) guarding an atomix.Uint32 state word (matching the
// spinlock-protected flags). Every state transition is a plain
// StoreRelease made while holding the mutex; there is no spin loop and
// no compare-and-swap.
package xtimer

import (
	"sync"
	"time"

	"code.hybscloud.com/atomix"
)

// Routine is the user callback invoked when the timer fires.
type Routine func()

const (
	stateIdle uint32 = iota
	stateArmed
	stateFiring
	stateCancelPending
	stateShutdown
)

// Timer is a cancelable, idempotent one-shot timer.
type Timer struct {
	routine Routine

	mu    sync.RWMutex // serializes start/cancel (pushlock analogue)
	state atomix.Uint32

	timer      *time.Timer
	cancelEvt  chan struct{}
}

// New creates a timer bound to routine. The timer does nothing until
// Start is called.
func New(routine Routine) *Timer {
	return &Timer{routine: routine}
}

// Start arms the timer to fire after delay, returning whether it was
// already running (and has now been re-armed).
func (t *Timer) Start(delay time.Duration) (wasRunning bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.LoadAcquire() == stateShutdown {
		return false
	}

	wasRunning = t.state.LoadAcquire() == stateArmed
	if t.timer != nil {
		t.timer.Stop()
	}
	t.cancelEvt = make(chan struct{})
	t.state.StoreRelease(stateArmed)

	cancelEvt := t.cancelEvt
	t.timer = time.AfterFunc(delay, func() {
		t.fire(cancelEvt)
	})
	return wasRunning
}

// fire runs on the timer's own goroutine when the delay elapses.
func (t *Timer) fire(cancelEvt chan struct{}) {
	t.mu.Lock()
	if t.cancelEvt != cancelEvt {
		// superseded by a later Start; this firing is stale.
		t.mu.Unlock()
		return
	}
	// The pushlock (t.mu) already serializes fire() against Cancel/
	// Start/Shutdown, so a plain store is race-free here; CompareAndSwap
	// would be redundant.
	t.state.StoreRelease(stateFiring)
	t.mu.Unlock()

	select {
	case <-cancelEvt:
		// cancel won the race: the workitem's signal substitutes for
		// invoking the user routine (spec §4.4).
		return
	default:
	}

	t.routine()

	t.mu.Lock()
	if t.state.LoadAcquire() == stateFiring {
		t.state.StoreRelease(stateIdle)
	}
	t.mu.Unlock()
}

// Cancel attempts to cancel a pending timer, returning whether it was
// running. Safe to call whether or not the timer is armed (idempotent).
func (t *Timer) Cancel() (wasRunning bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.state.LoadAcquire()
	if state != stateArmed {
		return false
	}

	if t.timer != nil && t.timer.Stop() {
		// OS timer was cancelled before firing: no race to resolve.
		t.state.StoreRelease(stateIdle)
		return true
	}

	// Timer had already fired (or is about to); signal the cancel
	// event so fire() skips invoking the user routine instead.
	if t.cancelEvt != nil {
		close(t.cancelEvt)
	}
	t.state.StoreRelease(stateIdle)
	return true
}

// Shutdown disables future Starts and optionally cancels any pending
// timer. With wait set it stops the underlying time.Timer; it does not
// wait for a routine that fire has already started to return, so that
// routine may still be running when Shutdown returns. With neither
// cancel nor wait set, an armed timer still fires after Shutdown
// returns. Safe to call exactly once; a repeated call does nothing and
// returns false.
func (t *Timer) Shutdown(cancel, wait bool) (wasRunning bool) {
	t.mu.Lock()
	alreadyShutdown := t.state.LoadAcquire() == stateShutdown
	t.mu.Unlock()
	if alreadyShutdown {
		return false
	}

	if cancel {
		wasRunning = t.Cancel()
	}

	t.mu.Lock()
	t.state.StoreRelease(stateShutdown)
	timer := t.timer
	t.mu.Unlock()

	if wait && timer != nil {
		// best-effort: Stop returns false if it already fired or was
		// never started, in which case there is nothing to wait on.
		timer.Stop()
	}
	return wasRunning
}
