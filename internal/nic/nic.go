// Package nic realizes the spec's abstract "host that exposes
// register_filter/send_nbls/..." OS boundary contract as a concrete Go
// interface, with one production implementation (internal/nic/afxdp,
// an AF_XDP socket) and one test-facing implementation
// (internal/nic/fake).
//
// Grounded on the teacher's internal/interfaces.Backend (the
// equivalent seam separating the queue runner from the underlying
// transport) generalized from a single block-device read/write
// contract to the datapath's three collaborator roles: resolving a
// descriptor to bytes, returning a descriptor to the device, and
// redirecting/sending a descriptor elsewhere.
package nic

import (
	"github.com/xdpgeneric/xdpgeneric/internal/ring"
)

// Driver is the full surface one RSS queue's NIC binding must provide.
// It structurally satisfies internal/rx.Memory, internal/rx.Releaser,
// internal/rx.Redirector, and internal/tx.Driver (those packages each
// declare their own narrower interface to avoid importing this
// package, per the root-only import direction) without either side
// importing the other.
type Driver interface {
	// Bytes resolves a UMEM descriptor to its backing bytes.
	Bytes(addr uint64, length uint32) []byte

	// Release returns a descriptor's frame to the fill ring so the
	// driver can recycle it.
	Release(d ring.Descriptor)

	// Redirect delivers a descriptor to another AF_XDP socket by file
	// descriptor (the classifier's REDIRECT action).
	Redirect(d ring.Descriptor, fd int) error

	// Send transmits a descriptor (the TX engine's Initiate step).
	Send(d ring.Descriptor) error

	// Close releases the driver's OS resources (socket, UMEM mmap).
	Close() error
}
