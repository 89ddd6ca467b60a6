// Package queue holds the RX/TX queue data model and lifecycle state
// machine shared by internal/rx and internal/tx: each queue owns a
// frame ring, an execution context, an RSS queue binding, and
// direction-specific extensions (the RX linearization buffer and
// TX-clone free cache, or the TX completion return path).
//
// Grounded on the teacher's internal/queue/runner.go Runner (per-queue
// struct bundling ring, execution thread, and backend reference) and
// pool.go (bounded reusable-buffer pool), both repurposed from
// block-I/O buffers to packet descriptors and lifecycle state per
// SPEC_FULL.md's RX/TX queue data model.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xdpgeneric/xdpgeneric/internal/ec"
	"github.com/xdpgeneric/xdpgeneric/internal/ring"
	"github.com/xdpgeneric/xdpgeneric/internal/rss"
)

// State is the RX/TX queue lifecycle (spec §3: "Created → Attached
// (enqueued on filter) → Activated (rings bound) → Paused ⇄ Running →
// Deleted").
type State int

const (
	StateCreated State = iota
	StateAttached
	StateActivated
	StatePaused
	StateRunning
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAttached:
		return "attached"
	case StateActivated:
		return "activated"
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned by a lifecycle method attempted from
// a state that does not permit it.
var ErrInvalidTransition = errors.New("queue: invalid state transition")

// lifecycle is the shared, mutex-guarded state machine embedded by
// both RXQueue and TXQueue.
type lifecycle struct {
	mu    sync.Mutex
	state State
}

func (l *lifecycle) move(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !validTransition(l.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
	}
	l.state = to
	return nil
}

// State returns the queue's current lifecycle state.
func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func validTransition(from, to State) bool {
	switch from {
	case StateCreated:
		return to == StateAttached
	case StateAttached:
		return to == StateActivated
	case StateActivated:
		return to == StateRunning || to == StatePaused
	case StatePaused:
		return to == StateRunning || to == StateDeleted
	case StateRunning:
		return to == StatePaused
	default:
		return false
	}
}

// RXQueue is per (filter, queue-id, rx direction). It owns the frame
// and fragment rings, the execution context driving poll, the bound
// RSS queue, the single linearization scratch buffer,
// and the bounded TX-clone free cache used when an RX action injects a
// hairpin TX frame.
type RXQueue struct {
	lifecycle

	id           int
	frameRing    *ring.Ring
	fragmentRing *ring.Ring
	rssQueue     *rss.Queue
	ec           *ec.EC

	linearizeMu    sync.Mutex
	linearizeBuf   []byte
	linearizeInUse bool

	txClones *FramePool
}

// NewRXQueue creates an RXQueue in StateCreated. fragmentRing may be
// nil when the underlying NIC never splits a frame across descriptors.
func NewRXQueue(id int, frameRing, fragmentRing *ring.Ring, rssQueue *rss.Queue, maxTxClones int) *RXQueue {
	return &RXQueue{
		id:           id,
		frameRing:    frameRing,
		fragmentRing: fragmentRing,
		rssQueue:     rssQueue,
		txClones:     NewFramePool(maxTxClones),
	}
}

func (q *RXQueue) ID() int                  { return q.id }
func (q *RXQueue) FrameRing() *ring.Ring     { return q.frameRing }
func (q *RXQueue) FragmentRing() *ring.Ring  { return q.fragmentRing }
func (q *RXQueue) RSSQueue() *rss.Queue      { return q.rssQueue }
func (q *RXQueue) TxClones() *FramePool      { return q.txClones }

// BindEC attaches the execution context driving this queue's poll
// quantum; set once during Activate.
func (q *RXQueue) BindEC(e *ec.EC) { q.ec = e }
func (q *RXQueue) EC() *ec.EC      { return q.ec }

func (q *RXQueue) Attach() error   { return q.move(StateAttached) }
func (q *RXQueue) Activate() error { return q.move(StateActivated) }
func (q *RXQueue) Start() error    { return q.move(StateRunning) }
func (q *RXQueue) Pause() error    { return q.move(StatePaused) }
func (q *RXQueue) Delete() error   { return q.move(StateDeleted) }

// AcquireLinearizeBuffer reserves the queue's single linearization
// buffer, growing it (doubling) to at least size. ok is false while an
// earlier caller still holds it (until ReleaseLinearizeBuffer);
// internal/rx holds it for one fragmented frame at a time.
func (q *RXQueue) AcquireLinearizeBuffer(size int) (buf []byte, ok bool) {
	q.linearizeMu.Lock()
	defer q.linearizeMu.Unlock()
	if q.linearizeInUse {
		return nil, false
	}
	q.linearizeInUse = true
	if cap(q.linearizeBuf) < size {
		newCap := cap(q.linearizeBuf)
		if newCap == 0 {
			newCap = 128
		}
		for newCap < size {
			newCap *= 2
		}
		q.linearizeBuf = make([]byte, newCap)
	}
	return q.linearizeBuf[:size], true
}

// ReleaseLinearizeBuffer frees the buffer for the next
// AcquireLinearizeBuffer call; internal/rx calls it at the end of each
// fragmented frame's gather.
func (q *RXQueue) ReleaseLinearizeBuffer() {
	q.linearizeMu.Lock()
	q.linearizeInUse = false
	q.linearizeMu.Unlock()
}

// TXQueue is per (filter, queue-id, tx direction). Delete is forbidden
// while OutstandingCount > 0 (spec §3); Pause drives that count to
// zero by draining with an explicit frame-drop policy (internal/tx).
type TXQueue struct {
	lifecycle

	id             int
	frameRing      *ring.Ring
	completionRing *ring.Ring
	rssQueue       *rss.Queue
	ec             *ec.EC

	free        *FramePool
	outstanding int
	outMu       sync.Mutex
}

// NewTXQueue creates a TXQueue in StateCreated with a free list
// pre-sized to frameCount (spec §6.3 GenericTxFrameCount).
func NewTXQueue(id int, frameRing, completionRing *ring.Ring, rssQueue *rss.Queue, frameCount int) *TXQueue {
	return &TXQueue{
		id:             id,
		frameRing:      frameRing,
		completionRing: completionRing,
		rssQueue:       rssQueue,
		free:           NewFramePool(frameCount),
	}
}

func (q *TXQueue) ID() int                 { return q.id }
func (q *TXQueue) FrameRing() *ring.Ring    { return q.frameRing }
func (q *TXQueue) CompletionRing() *ring.Ring { return q.completionRing }
func (q *TXQueue) RSSQueue() *rss.Queue     { return q.rssQueue }
func (q *TXQueue) Free() *FramePool         { return q.free }

func (q *TXQueue) BindEC(e *ec.EC) { q.ec = e }
func (q *TXQueue) EC() *ec.EC      { return q.ec }

func (q *TXQueue) Attach() error   { return q.move(StateAttached) }
func (q *TXQueue) Activate() error { return q.move(StateActivated) }
func (q *TXQueue) Start() error    { return q.move(StateRunning) }
func (q *TXQueue) Pause() error    { return q.move(StatePaused) }

// Delete transitions to StateDeleted; refused while any frame is
// outstanding (spec §3 TX-queue invariant).
func (q *TXQueue) Delete() error {
	q.outMu.Lock()
	outstanding := q.outstanding
	q.outMu.Unlock()
	if outstanding > 0 {
		return fmt.Errorf("queue: cannot delete tx queue %d with %d outstanding frames", q.id, outstanding)
	}
	return q.move(StateDeleted)
}

// IncOutstanding/DecOutstanding track frames sent to the NIC and not
// yet completed; internal/tx calls these around initiate/complete.
func (q *TXQueue) IncOutstanding() {
	q.outMu.Lock()
	q.outstanding++
	q.outMu.Unlock()
}

func (q *TXQueue) DecOutstanding() {
	q.outMu.Lock()
	if q.outstanding > 0 {
		q.outstanding--
	}
	q.outMu.Unlock()
}

func (q *TXQueue) Outstanding() int {
	q.outMu.Lock()
	defer q.outMu.Unlock()
	return q.outstanding
}
