// Package ring implements the datapath's descriptor ring buffer: a
// single-producer/single-consumer, power-of-two descriptor array with
// producer/consumer indices and a flags word carrying NEED_POKE,
// bit-exact with AF_XDP's own ring layout (NEED_POKE ≡ XDP_RING_NEED_WAKEUP).
//
// Grounded on the teacher's internal/queue/runner.go mmapQueues pattern
// (open, configure, mmap, retry) for the memory-mapped constructor, and
// on original_source's ring-buffer description in lwf/generic.h for the
// field layout.
package ring

import (
	"errors"

	"code.hybscloud.com/atomix"
)

// NeedPoke is bit 0 of the flags word, set by the consumer when it has
// gone idle and wants the producer to issue a wakeup (poke) syscall.
const NeedPoke uint32 = 1 << 0

// ErrFull and ErrEmpty are returned by Push/Pop when the ring cannot
// make progress; these are control-flow signals, not failures.
var (
	ErrFull  = errors.New("ring: full")
	ErrEmpty = errors.New("ring: empty")
)

// Descriptor mirrors the wire-format entry: frame address, length, and
// an options word (kept generic so the same ring serves RX and TX).
type Descriptor struct {
	Addr    uint64
	Len     uint32
	Options uint32
}

// Ring is the bit-exact SPSC descriptor ring. Producer and Consumer are
// free-running 32-bit indices (no explicit wraparound) masked by Mask;
// Flags carries NeedPoke. All three words use explicit acquire/release
// ordering so a single producer and a single consumer goroutine (which
// may be pinned to different CPUs, per internal/ec) can run the ring
// without a mutex.
type Ring struct {
	producer atomix.Uint32 // next slot the producer will write
	consumer atomix.Uint32 // next slot the consumer will read
	flags    atomix.Uint32

	mask        uint32
	descriptors []Descriptor
}

// New allocates a ring backed by a private Go slice (used by the fake
// NIC and by tests). Capacity is rounded up to the next power of two.
func New(capacity int) *Ring {
	n := roundToPow2(capacity)
	return &Ring{
		mask:        uint32(n - 1),
		descriptors: make([]Descriptor, n),
	}
}

// Mmap wraps a descriptor array obtained from internal/nic/afxdp's
// UMEM/ring mmap. The caller owns the backing memory's lifetime.
func Mmap(descriptors []Descriptor) *Ring {
	n := len(descriptors)
	if n == 0 || n&(n-1) != 0 {
		panic("ring: Mmap requires a power-of-two-sized descriptor slice")
	}
	return &Ring{
		mask:        uint32(n - 1),
		descriptors: descriptors,
	}
}

func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// Cap returns the ring's descriptor capacity.
func (r *Ring) Cap() int { return int(r.mask) + 1 }

// Push writes one descriptor (producer side only).
func (r *Ring) Push(d Descriptor) error {
	prod := r.producer.LoadRelaxed()
	cons := r.consumer.LoadAcquire()
	if prod-cons > r.mask {
		return ErrFull
	}
	r.descriptors[prod&r.mask] = d
	r.producer.StoreRelease(prod + 1)
	return nil
}

// Pop reads one descriptor (consumer side only).
func (r *Ring) Pop() (Descriptor, error) {
	cons := r.consumer.LoadRelaxed()
	prod := r.producer.LoadAcquire()
	if prod == cons {
		return Descriptor{}, ErrEmpty
	}
	d := r.descriptors[cons&r.mask]
	r.consumer.StoreRelease(cons + 1)
	return d, nil
}

// Peek returns the next descriptor Pop would return, without consuming
// it. Consumer side only; used by the ioctlsrv debug surface, never by
// the hot poll path.
func (r *Ring) Peek() (Descriptor, error) {
	cons := r.consumer.LoadRelaxed()
	prod := r.producer.LoadAcquire()
	if prod == cons {
		return Descriptor{}, ErrEmpty
	}
	return r.descriptors[cons&r.mask], nil
}

// Pending reports the number of unread descriptors. Approximate under
// concurrent access by design (spec: accurate counts require
// cross-core synchronization the ring deliberately avoids).
func (r *Ring) Pending() uint32 {
	return r.producer.LoadAcquire() - r.consumer.LoadAcquire()
}

// SetNeedPoke sets or clears the NEED_POKE flag (consumer side, when
// the consumer is about to go idle).
func (r *Ring) SetNeedPoke(need bool) {
	cur := r.flags.LoadRelaxed()
	if need {
		r.flags.StoreRelease(cur | NeedPoke)
	} else {
		r.flags.StoreRelease(cur &^ NeedPoke)
	}
}

// NeedsPoke reports whether the consumer has requested a wakeup
// (producer side, checked before deciding whether to issue a poke
// syscall after pushing).
func (r *Ring) NeedsPoke() bool {
	return r.flags.LoadAcquire()&NeedPoke != 0
}
