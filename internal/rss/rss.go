// Package rss implements the RSS indirection table: a lock-free
// hash-to-queue lookup that the RX engine consults on every frame, and
// a per-queue ideal-processor value the execution context follows as
// RSS migrates work between CPUs.
//
// Grounded on spec's "RSS queue" and "Indirection table" data-model
// entries (queue id, hash seed, ideal processor, nullable rx/tx queue
// pointers; table size is a power of two, replaceable atomically) and
// on original_source/src/xdplwf/rss.c's seed-rotation-on-republish
// mitigation, which SPEC_FULL.md carries forward as a supplemented
// feature. The teacher has no RSS analogue; the atomic-pointer-swap
// idiom here mirrors internal/ring's producer/consumer release-store
// discipline at the package level instead of the raw ring.
package rss

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/xdpgeneric/xdpgeneric/internal/lifetime"
)

// ErrEmptyQueueSet is returned by Republish when given no queues.
var ErrEmptyQueueSet = errors.New("rss: queue set must not be empty")

// ErrTableSizeNotPowerOfTwo is returned by Republish when the
// indirection table length is not a power of two.
var ErrTableSizeNotPowerOfTwo = errors.New("rss: indirection table size must be a power of two")

// ErrEntryOutOfRange is returned by Republish when an indirection
// entry references a queue position outside the new queue set.
var ErrEntryOutOfRange = errors.New("rss: indirection entry references unknown queue")

// Queue is one RSS queue's externally-visible, independently-mutable
// state. Its ideal processor is read by internal/ec (satisfying
// ec.IdealProcessor) and written here whenever RSS retargets it; which
// rx/tx/tx-inspect/rx-inject queues it addresses is tracked by the
// queue registry that owns this Queue, not by rss itself.
type Queue struct {
	id             int
	idealProcessor atomic.Int32
}

// NewQueue creates a Queue identified by id, with no ideal processor
// assigned yet (reported as 0 until SetIdealProcessor is called).
func NewQueue(id int) *Queue {
	return &Queue{id: id}
}

// ID returns the queue's stable identifier.
func (q *Queue) ID() int { return q.id }

// Load returns the queue's current ideal processor. Implements
// internal/ec.IdealProcessor.
func (q *Queue) Load() int { return int(q.idealProcessor.Load()) }

// SetIdealProcessor retargets the queue's ideal processor; the next
// poll on the queue's execution context will migrate there.
func (q *Queue) SetIdealProcessor(proc int) { q.idealProcessor.Store(int32(proc)) }

// indirection is one immutable published {queue set, table, seed}
// triple. Queue count and table are always replaced together so a
// reader never observes a table sized for a queue set that no longer
// exists.
type indirection struct {
	queues  []*Queue
	entries []uint32 // indexed by hash & mask; value indexes into queues
	mask    uint32
	seed    uint32
}

// Table is the RSS indirection table. Lookup and Seed never block;
// Republish is serialized against concurrent republishers but never
// blocks a concurrent Lookup, since the swap is a single atomic
// pointer store (spec: "indirection pointer is replaced with a single
// release-store; no reader observes a torn table").
type Table struct {
	mu      sync.Mutex // serializes Republish callers only
	current atomic.Pointer[indirection]
	arena   *lifetime.Arena
}

// New creates an unpublished Table (Lookup reports not-found until the
// first Republish). Retired tables are deferred through arena, which
// may be nil in tests that do not exercise retirement.
func New(arena *lifetime.Arena) *Table {
	t := &Table{arena: arena}
	t.current.Store(&indirection{})
	return t
}

// Republish installs a new queue set and indirection table as a single
// atomic unit, rotating the hash seed. entries holds, for each table
// slot, the index of the owning Queue within queues (not the Queue's
// own ID).
func (t *Table) Republish(queues []*Queue, entries []uint32) error {
	if len(queues) == 0 {
		return ErrEmptyQueueSet
	}
	size := len(entries)
	if size == 0 || size&(size-1) != 0 {
		return ErrTableSizeNotPowerOfTwo
	}
	for _, e := range entries {
		if int(e) >= len(queues) {
			return ErrEntryOutOfRange
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.current.Load()
	next := &indirection{
		queues:  append([]*Queue(nil), queues...),
		entries: append([]uint32(nil), entries...),
		mask:    uint32(size - 1),
		seed:    rotateSeed(old.seed),
	}
	t.current.Store(next)

	if t.arena != nil && old.entries != nil {
		retired := old
		t.arena.DeleteLater(func() { _ = retired })
	}
	return nil
}

// Lookup selects the Queue addressed by hash under the currently
// published table. ok is false if no table has been published yet
// (callers PASS the whole chain per spec §4.7 step 1).
func (t *Table) Lookup(hash uint32) (q *Queue, ok bool) {
	ind := t.current.Load()
	if len(ind.entries) == 0 {
		return nil, false
	}
	idx := ind.entries[hash&ind.mask]
	return ind.queues[idx], true
}

// Seed returns the currently published hash seed, for programming
// into whatever external hash function feeds Lookup's hash values
// (e.g. hardware RSS configuration).
func (t *Table) Seed() uint32 {
	return t.current.Load().seed
}

// QueueCount reports the number of queues in the currently published
// set.
func (t *Table) QueueCount() int {
	return len(t.current.Load().queues)
}

// rotateSeed advances the hash seed on every republish. Grounded on
// the original's seed-rotation-on-republish mitigation against
// algorithmic-complexity attacks on the hash function; a fixed
// starting value (0) plus a multiplicative step is sufficient since no
// seed value needs to survive a process restart.
func rotateSeed(prev uint32) uint32 {
	return prev*2654435761 + 1
}
