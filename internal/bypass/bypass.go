// Package bypass implements datapath bypass reference counting: callers
// take and release references to an attached datapath, with a
// delay-detach timer absorbing the common create/destroy churn so a
// restart is only requested on a genuine 0→1 or 1→0 transition.
//
// Grounded on spec §4.5; no direct teacher analogue. The structure
// mirrors the teacher's internal/queue state-machine style (explicit
// state, mutex-guarded transitions, boolean "did something happen"
// return values) applied to the reference-count/timer interplay
// described in the spec.
package bypass

import (
	"sync"
	"time"

	"github.com/xdpgeneric/xdpgeneric/internal/constants"
	"github.com/xdpgeneric/xdpgeneric/internal/xtimer"
)

// Datapath tracks one attached RX/TX pair's bypass reference count and
// its delay-detach timer.
type Datapath struct {
	mu    sync.Mutex
	count int

	delayDetachTimer *xtimer.Timer
	delayDetachDelay time.Duration
	timerDonated     bool

	restartFn func()

	readyEvent chan struct{}
	readyOnce  sync.Once

	wantRx, wantTx bool
}

// New creates a Datapath with the delay-detach timeout from config (or
// the compiled-in default).
func New(delayDetachTimeoutSec int) *Datapath {
	if delayDetachTimeoutSec <= 0 {
		delayDetachTimeoutSec = constants.GenericDelayDetachTimeoutSecDefault
	}
	d := &Datapath{
		delayDetachDelay: time.Duration(delayDetachTimeoutSec) * time.Second,
		readyEvent:       make(chan struct{}),
	}
	d.delayDetachTimer = xtimer.New(d.onDelayDetachFired)
	return d
}

// SetRestartHandler registers the callback invoked when a delay-detach
// timer fires and actually drives the count to zero (the need-restart
// signal Reference/Dereference can't return synchronously, since the
// timer fires on its own goroutine long after the Dereference call that
// armed it returned). Must be called before the timer can fire, i.e.
// before any Reference/Dereference call.
func (d *Datapath) SetRestartHandler(fn func()) {
	d.mu.Lock()
	d.restartFn = fn
	d.mu.Unlock()
}

// onDelayDetachFired runs when a donated reference's grace period
// expires without being reclaimed: the detach that was deferred by
// Dereference actually takes effect now, completing the 1→0 transition
// it deferred and invoking the registered restart handler.
func (d *Datapath) onDelayDetachFired() {
	d.mu.Lock()
	d.timerDonated = false
	d.count--
	needRestart := d.count == 0
	fn := d.restartFn
	d.mu.Unlock()

	if needRestart && fn != nil {
		fn()
	}
}

// Reference takes a reference on the datapath (called under the
// filter's lock). needRestart reports whether the caller must request
// an OS restart (handler table republish) because the count transitioned
// 0→1 without an available timer donation.
func (d *Datapath) Reference() (needRestart bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timerDonated {
		if d.delayDetachTimer.Cancel() {
			// a previously-donated reference is transferred to this
			// caller; the count never dropped, so no restart needed.
			d.timerDonated = false
			return false
		}
	}

	d.count++
	if d.count == 1 {
		return true
	}
	return false
}

// Dereference releases a reference. If the count is about to drop to
// zero and a delay-detach timer is configured, the actual detach is
// deferred by arming the timer (donating the reference) instead of
// decrementing immediately.
func (d *Datapath) Dereference() (needRestart bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.count == 1 && d.delayDetachDelay > 0 {
		d.delayDetachTimer.Start(d.delayDetachDelay)
		d.timerDonated = true
		return false
	}

	d.count--
	if d.count == 0 && !d.timerDonated {
		return true
	}
	return false
}

// Count returns the current reference count (diagnostics/tests only).
func (d *Datapath) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// AttachDatapath records which directions are wanted and signals
// readiness; callers that requested a restart should wait on Ready.
func (d *Datapath) AttachDatapath(rx, tx bool) {
	d.mu.Lock()
	d.wantRx = rx
	d.wantTx = tx
	d.mu.Unlock()
}

// DetachDatapath is the symmetric counterpart of AttachDatapath.
func (d *Datapath) DetachDatapath() {
	d.mu.Lock()
	d.wantRx = false
	d.wantTx = false
	d.mu.Unlock()
}

// MarkReady signals that the OS restart requested by Reference/
// Dereference has completed and the datapath is live.
func (d *Datapath) MarkReady() {
	d.readyOnce.Do(func() { close(d.readyEvent) })
}

// WaitReady blocks until MarkReady is called or DatapathReadyTimeout
// elapses, returning false on timeout (a soft failure per spec §4.5:
// "waits ... up to a fixed timeout (≤ 1 second)").
func (d *Datapath) WaitReady() bool {
	select {
	case <-d.readyEvent:
		return true
	case <-time.After(constants.DatapathReadyTimeout):
		return false
	}
}

// Close shuts down the delay-detach timer, canceling any pending fire.
func (d *Datapath) Close() {
	d.delayDetachTimer.Shutdown(true, true)
}
