package queue

import "sync"

// FrameHandle is a cloned UMEM frame descriptor: the address/length of
// a second owned chunk plus a child refcount field (spec §3 Frame ring
// element; §9 "an NBL carries an atomic u32 child-refcount"). Put
// resets refs to zero; no code reads it, so it gates nothing.
type FrameHandle struct {
	Addr uint64
	Len  uint32
	refs int32
}

// FramePool is a bounded free cache of reusable FrameHandles. Grounded
// on the teacher's size-bucketed sync.Pool buffer pool (globalPool in
// the original pool.go), but a fixed capacity replaces the unbounded
// buckets: spec §5 requires the TX-clone free-cache to be bounded by
// RxMaxTxBuffers (default 256, max 4096), not merely size-bucketed.
type FramePool struct {
	mu   sync.Mutex
	free []*FrameHandle
	cap  int
	live int
}

// NewFramePool creates a pool that allows at most capacity handles to
// be checked out at once.
func NewFramePool(capacity int) *FramePool {
	return &FramePool{cap: capacity}
}

// Get returns a free handle, allocating one if the cache is empty and
// the pool is under capacity. ok is false when the pool is at capacity
// with nothing free — internal/rx's hairpin path counts this as a
// forwarding failure; internal/tx.Engine.Initiate leaves the frame
// pending and retries on a later quantum.
func (p *FramePool) Get() (*FrameHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		h := p.free[n-1]
		p.free = p.free[:n-1]
		p.live++
		return h, true
	}
	if p.live >= p.cap {
		return nil, false
	}
	p.live++
	return &FrameHandle{}, true
}

// Put returns a handle to the pool, resetting its refcount.
func (p *FramePool) Put(h *FrameHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h.refs = 0
	h.Addr = 0
	h.Len = 0
	if p.live > 0 {
		p.live--
	}
	if len(p.free) < p.cap {
		p.free = append(p.free, h)
	}
}

// Live reports how many handles are currently checked out.
func (p *FramePool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Cap reports the pool's maximum concurrently-checked-out handles.
func (p *FramePool) Cap() int { return p.cap }
