// Package rx implements the generic-mode RX engine: per-queue poll
// draining the frame ring, gathering fragmented frames into a
// linearization buffer, classifying each, and dispatching the matched
// action (PASS/DROP/TX/REDIRECT/L2FWD).
//
// Grounded on spec §4.7's seven-step algorithm and on the teacher's
// internal/queue/runner.go ioLoop (a per-queue goroutine that pops work
// off a ring, does something with it, and reports whether more
// remains, driven by internal/ec's poll quantum).
package rx

import (
	"errors"

	"github.com/xdpgeneric/xdpgeneric/internal/classify"
	"github.com/xdpgeneric/xdpgeneric/internal/constants"
	"github.com/xdpgeneric/xdpgeneric/internal/queue"
	"github.com/xdpgeneric/xdpgeneric/internal/ring"
)

// Memory resolves a UMEM descriptor to its backing bytes. internal/nic's
// implementations satisfy this by slicing the mmap'd UMEM region.
type Memory interface {
	Bytes(addr uint64, length uint32) []byte
}

// Releaser returns a descriptor's frame to the NIC once the RX engine
// is done with it (PASS, DROP, or after a TX/L2FWD clone has been
// taken), so the driver can recycle it onto its fill ring.
type Releaser interface {
	Release(d ring.Descriptor)
}

// Redirector delivers a descriptor to an AF_XDP socket by file
// descriptor (the REDIRECT action's target).
type Redirector interface {
	Redirect(d ring.Descriptor, fd int) error
}

// Observer receives RX engine events. Narrower than the root package's
// Observer so this package never imports it.
type Observer interface {
	ObserveRxFrame(bytes uint64)
	ObserveAction(action classify.Action)
	ObserveMappingFailure()
	ObserveForwardingFailure()
}

// ErrQueueNotRunning is returned by Poll when the RX queue's lifecycle
// state does not permit polling.
var ErrQueueNotRunning = errors.New("rx: queue is not running")

// Engine drives one RXQueue's poll cycle: classify and dispatch.
type Engine struct {
	q          *queue.RXQueue
	mem        Memory
	releaser   Releaser
	redirector Redirector
	observer   Observer

	hairpin *queue.TXQueue // nil disables TX/L2FWD hairpin injection

	rules []classify.Rule
}

// New creates an Engine over q. hairpin may be nil if this queue never
// serves TX/L2FWD actions (the RX-only half of a split deployment).
func New(q *queue.RXQueue, mem Memory, releaser Releaser, redirector Redirector, hairpin *queue.TXQueue, observer Observer) *Engine {
	return &Engine{
		q:          q,
		mem:        mem,
		releaser:   releaser,
		redirector: redirector,
		hairpin:    hairpin,
		observer:   observer,
		rules:      []classify.Rule{{Kind: classify.RuleAll, Action: classify.ActionPass}},
	}
}

// SetRules atomically replaces the classifier rule list consulted on
// the engine's next Poll. Validation is the caller's responsibility
// (the root Filter validates before calling SetRules on every engine).
func (e *Engine) SetRules(rules []classify.Rule) {
	e.rules = rules
}

// PeekFrame returns the next pending descriptor on the frame ring
// without consuming it, for the ioctlsrv debug surface's GET_FRAME
// operation. The underlying ring has no random-access peek, so this
// only ever reports "what Pop would return next."
func (e *Engine) PeekFrame() (ring.Descriptor, bool) {
	return e.q.FrameRing().Peek()
}

// DequeueFrame pops and returns the next pending descriptor from the
// frame ring, bypassing classification/dispatch entirely. Used by
// ioctlsrv's DEQUEUE_FRAME debug operation, not by the normal Poll
// datapath.
func (e *Engine) DequeueFrame() (ring.Descriptor, bool) {
	d, err := e.q.FrameRing().Pop()
	if err != nil {
		return ring.Descriptor{}, false
	}
	return d, true
}

// Poll processes up to PollQuantumIterations descriptors from the frame
// ring, returning more=true if descriptors are still pending after that
// (the EC should run another quantum iteration).
func (e *Engine) Poll() (more bool, err error) {
	if e.q.State() != queue.StateRunning {
		return false, ErrQueueNotRunning
	}

	processed := 0
	for processed < constants.PollQuantumIterations {
		d, popErr := e.q.FrameRing().Pop()
		if popErr != nil {
			return false, nil
		}
		e.processOne(d)
		processed++
	}
	return e.q.FrameRing().Pending() > 0, nil
}

// processOne implements spec §4.7 steps 3-6 for a single descriptor.
func (e *Engine) processOne(d ring.Descriptor) {
	data, ok := e.gather(d)
	if !ok {
		e.observer.ObserveMappingFailure()
		e.dispatch(classify.ActionDrop, nil, d, nil)
		return
	}

	e.observer.ObserveRxFrame(uint64(len(data)))

	frame := classify.NewFrame(data)
	action, rule := classify.Inspect(frame, e.rules)
	e.observer.ObserveAction(action)
	e.dispatch(action, frame, d, rule)
}

// gather produces the frame's linearized bytes, consulting the
// fragment ring and the queue's linearization scratch buffer when the
// frame spans more than one descriptor. gather acquires the buffer and
// releases it before returning, so it is held for one frame, not for a
// whole poll quantum: each fragmented frame in a quantum gets it in
// turn, and no frame is deferred to a later quantum. A descriptor's
// Options field carries the fragment count following it (0 for an
// unfragmented frame), mirroring the original's MDL-chain walk.
func (e *Engine) gather(d ring.Descriptor) ([]byte, bool) {
	if d.Options == 0 {
		return e.mem.Bytes(d.Addr, d.Len), true
	}

	fragCount := int(d.Options)
	if fragCount > constants.FragmentLimit || e.q.FragmentRing() == nil {
		return nil, false
	}

	total := int(d.Len)
	frags := make([]ring.Descriptor, 0, fragCount)
	for i := 0; i < fragCount; i++ {
		f, err := e.q.FragmentRing().Pop()
		if err != nil {
			return nil, false
		}
		frags = append(frags, f)
		total += int(f.Len)
	}

	buf, ok := e.q.AcquireLinearizeBuffer(total)
	if !ok {
		// The scratch buffer is already held. gather is its only user
		// and always releases it, so Poll does not reach this branch;
		// if it were reached, the descriptor and its fragments are
		// already popped and the caller drops the frame as a mapping
		// failure.
		return nil, false
	}
	defer e.q.ReleaseLinearizeBuffer()

	off := copy(buf, e.mem.Bytes(d.Addr, d.Len))
	for _, f := range frags {
		off += copy(buf[off:], e.mem.Bytes(f.Addr, f.Len))
	}
	out := make([]byte, off)
	copy(out, buf[:off])
	return out, true
}

// dispatch applies the matched action, per spec §4.7 step 6 and §4.6's
// action list.
func (e *Engine) dispatch(action classify.Action, frame *classify.Frame, d ring.Descriptor, rule *classify.Rule) {
	switch action {
	case classify.ActionDrop:
		e.releaser.Release(d)

	case classify.ActionPass:
		e.releaser.Release(d)

	case classify.ActionRedirect:
		fd := 0
		if rule != nil {
			fd = rule.RedirectFD
		}
		if err := e.redirector.Redirect(d, fd); err != nil {
			e.observer.ObserveForwardingFailure()
		}
		e.releaser.Release(d)

	case classify.ActionL2Fwd:
		e.swapOriginalEthernetAddrs(d)
		e.hairpinClone(d)
		e.releaser.Release(d)

	case classify.ActionEbpf:
		// EBPF is the sole unconditional rule (classify.Validate
		// rejects any other rule alongside it): the bytecode program
		// is authoritative and the frame is left untouched here.
		e.releaser.Release(d)

	default:
		e.releaser.Release(d)
	}
}

// swapOriginalEthernetAddrs swaps the 12-byte MAC header directly in
// the descriptor's own backing memory rather than in frame.Data: for a
// fragmented frame, gather's frame.Data is a linearized copy in the
// queue's scratch buffer, disconnected from the UMEM bytes d.Addr
// still points at, and hairpinClone always re-pushes d's original
// address. Swapping here instead of on frame.Data is what makes the
// swap visible through the clone for both the unfragmented and
// fragmented cases (spec §4.6's "scatter the 14-byte result back via
// fragment ring"). The Ethernet header is assumed to fit within the
// first descriptor, as it does for every frame this engine constructs
// or accepts; swapEthernetAddrs no-ops if it doesn't.
func (e *Engine) swapOriginalEthernetAddrs(d ring.Descriptor) {
	swapEthernetAddrs(e.mem.Bytes(d.Addr, d.Len))
}

// hairpinClone takes a clone handle from the RX queue's bounded
// TX-clone cache and injects the descriptor onto the hairpin TX queue's
// frame ring, per spec §4.7 step 6. A full parent/child NDIS refcount
// isn't meaningful in this userspace rewrite (there is no parent NBL to
// return once every child completes); the clone handle is held only
// for the push and returned to the RX cache right after it, and the TX
// side takes its own handle from its free pool in
// internal/tx.Engine.Initiate.
func (e *Engine) hairpinClone(d ring.Descriptor) {
	if e.hairpin == nil {
		e.observer.ObserveForwardingFailure()
		return
	}
	h, ok := e.q.TxClones().Get()
	if !ok {
		e.observer.ObserveForwardingFailure()
		return
	}
	h.Addr = d.Addr
	h.Len = d.Len

	if err := e.hairpin.FrameRing().Push(ring.Descriptor{Addr: d.Addr, Len: d.Len}); err != nil {
		e.observer.ObserveForwardingFailure()
	}
	e.q.TxClones().Put(h)
}

// swapEthernetAddrs exchanges the 6-byte source/destination MAC
// fields in-place (spec §4.6 L2FWD: "swap source/destination MAC
// in-place").
func swapEthernetAddrs(data []byte) {
	if len(data) < 12 {
		return
	}
	var tmp [6]byte
	copy(tmp[:], data[0:6])
	copy(data[0:6], data[6:12])
	copy(data[6:12], tmp[:])
}
