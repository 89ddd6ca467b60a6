// Package fake implements internal/nic.Driver entirely in-process, for
// unit tests and the ioctlsrv-facing seed suite that can't depend on a
// live network interface.
//
// Grounded on the teacher's testing.go MockBackend: an in-memory stand-
// in that records what was asked of it instead of touching real
// hardware.
package fake

import (
	"sync"

	"github.com/xdpgeneric/xdpgeneric/internal/oid"
	"github.com/xdpgeneric/xdpgeneric/internal/ring"
)

// Driver is an in-memory internal/nic.Driver. Frames are plain byte
// slices addressed by a monotonically increasing fake UMEM offset
// rather than a real mmap region.
type Driver struct {
	mu sync.Mutex

	frames map[uint64][]byte
	nextAddr uint64

	Released   []ring.Descriptor
	Redirected []ring.Descriptor
	Sent       []ring.Descriptor
	Submitted  []*oid.Request

	RedirectErr error
	SendErr     error
	SubmitErr   error
}

// New creates an empty fake driver.
func New() *Driver {
	return &Driver{frames: make(map[uint64][]byte)}
}

// Inject registers data as a new frame and returns the descriptor
// addressing it, for tests to push onto a ring.
func (d *Driver) Inject(data []byte) ring.Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	addr := d.nextAddr
	d.nextAddr += uint64(len(data)) + 1
	buf := append([]byte(nil), data...)
	d.frames[addr] = buf
	return ring.Descriptor{Addr: addr, Len: uint32(len(buf))}
}

// Bytes implements internal/rx.Memory.
func (d *Driver) Bytes(addr uint64, length uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.frames[addr]
	if !ok {
		return nil
	}
	if uint32(len(buf)) > length {
		return buf[:length]
	}
	return buf
}

// Release implements internal/rx.Releaser.
func (d *Driver) Release(desc ring.Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Released = append(d.Released, desc)
}

// Redirect implements internal/rx.Redirector.
func (d *Driver) Redirect(desc ring.Descriptor, fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.RedirectErr != nil {
		return d.RedirectErr
	}
	d.Redirected = append(d.Redirected, desc)
	return nil
}

// Send implements internal/tx.Driver.
func (d *Driver) Send(desc ring.Descriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SendErr != nil {
		return d.SendErr
	}
	d.Sent = append(d.Sent, desc)
	return nil
}

// Close implements internal/nic.Driver; the fake holds no OS
// resources, so this is a no-op.
func (d *Driver) Close() error { return nil }

// Submit implements internal/oid.Downstream: it records the request
// and, absent SubmitErr, reports every byte of Data as both read and
// written — there is no real miniport below this fake to report
// partial completion.
func (d *Driver) Submit(req *oid.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SubmitErr != nil {
		return d.SubmitErr
	}
	d.Submitted = append(d.Submitted, req)
	req.BytesRead = uint32(len(req.Data))
	req.BytesWritten = uint32(len(req.Data))
	return nil
}
