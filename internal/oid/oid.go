// Package oid implements the OID inspector: pass-through with optional
// interception of OID_GEN_RECEIVE_SCALE_PARAMETERS requests, diverted
// to the offload manager instead of reaching the NIC once its RSS
// edges have diverged.
//
// Grounded on spec §4.10 and, for the clone/complete-copy-back shape,
// on original_source/lwf/oid.c's XdpLwfOidInspectRequest /
// XdpLwfCommonOidRequestComplete and src/xdplwf/oid.c's
// XdpLwfOidInternalRequest (kept as doc comments describing the
// pattern; the C struct layout — SourceReserved, BytesRead/Written/
// Needed per request type — has no Go analogue here).
package oid

import (
	"errors"

	"github.com/xdpgeneric/xdpgeneric/internal/offload"
)

// OID identifies the NDIS-style object id a Request targets. Only the
// one OID this inspector diverts is named explicitly; every other
// value passes through untouched.
type OID uint32

// OIDReceiveScaleParameters is OID_GEN_RECEIVE_SCALE_PARAMETERS, the
// sole OID this inspector diverts to the offload manager (spec §4.10).
const OIDReceiveScaleParameters OID = 0x00010204

// Method distinguishes a set from a query request, mirroring
// NDIS_REQUEST_TYPE's SET_INFORMATION/QUERY_INFORMATION.
type Method int

const (
	MethodQuery Method = iota
	MethodSet
)

// Request is one inspected OID request. BytesRead/Written/Needed are
// populated by Complete, mirroring the original's post-completion
// copy-back of the NDIS_OID_REQUEST's per-method byte counts.
type Request struct {
	OID    OID
	Method Method
	Data   []byte

	BytesRead    uint32
	BytesWritten uint32
	BytesNeeded  uint32

	// clonedFrom is the original request this is an async clone of,
	// set by Inspector.Inspect and consumed by Inspector.Complete —
	// the userspace analogue of stashing a source pointer in
	// NDIS_OID_REQUEST.SourceReserved.
	clonedFrom *Request
}

// Downstream submits a cloned request to the NIC; Submit returns the
// completion status synchronously. internal/nic/fake.Driver satisfies
// this; internal/nic.Driver and internal/nic/afxdp.Socket have no
// Submit method.
type Downstream interface {
	Submit(req *Request) error
}

// ErrLocallyCompleted is returned by Inspect when the request was
// completed locally against the offload manager and must not be
// submitted downstream.
var ErrLocallyCompleted = errors.New("oid: completed locally by offload manager")

// Inspector intercepts OID requests flowing between the upstream stack
// and the NIC.
type Inspector struct {
	offloads *offload.Manager
}

// New creates an Inspector diverting OID_GEN_RECEIVE_SCALE_PARAMETERS
// to offloads.
func New(offloads *offload.Manager) *Inspector {
	return &Inspector{offloads: offloads}
}

// Inspect examines req before it would be submitted downstream. For
// anything but OID_GEN_RECEIVE_SCALE_PARAMETERS it returns req
// unmodified with a nil error (plain pass-through). For the diverted
// OID it clones req (clonedFrom set to the original so Complete can
// copy the byte counts back) and returns the clone to submit, unless
// the offload manager decides to complete the request locally, in
// which case it returns ErrLocallyCompleted and the caller must not
// touch the NIC.
func (o *Inspector) Inspect(req *Request) (*Request, error) {
	if req.OID != OIDReceiveScaleParameters {
		return req, nil
	}

	switch req.Method {
	case MethodQuery:
		clone := &Request{OID: req.OID, Method: req.Method, Data: append([]byte(nil), req.Data...), clonedFrom: req}
		return clone, nil

	case MethodSet:
		settings := decodeRSSSettings(req.Data)
		if passThrough := o.offloads.ApplyUpperSet(settings); !passThrough {
			req.BytesRead = uint32(len(req.Data))
			req.BytesWritten = 0
			req.BytesNeeded = 0
			return nil, ErrLocallyCompleted
		}
		clone := &Request{OID: req.OID, Method: req.Method, Data: append([]byte(nil), req.Data...), clonedFrom: req}
		return clone, nil

	default:
		return req, nil
	}
}

// Complete copies a cloned request's byte counts back onto the
// original it was cloned from, per spec §4.10's "on completion copying
// back the bytes_read/written/needed fields". If clone was never
// produced by Inspect (clonedFrom is nil), Complete is a no-op.
func (o *Inspector) Complete(clone *Request) {
	if clone == nil || clone.clonedFrom == nil {
		return
	}
	orig := clone.clonedFrom
	orig.BytesRead = clone.BytesRead
	orig.BytesWritten = clone.BytesWritten
	orig.BytesNeeded = clone.BytesNeeded
}

// Split divides a diverged OID_GEN_RECEIVE_SCALE_PARAMETERS set request
// into an upper-edge apply and a lower-edge apply, the original's
// behavior (lwf/oid.c, src/xdplwf/oid.c) when the two edges have
// already diverged and a single NDIS set can't satisfy both views at
// once. Returns the two requests to apply; the caller applies upper
// first, matching the original's ordering (stack's belief is recorded
// before the NIC-facing request, if any, is attempted).
func (o *Inspector) Split(req *Request) (upper *Request, lower *Request) {
	upper = &Request{OID: req.OID, Method: req.Method, Data: req.Data}
	if !o.offloads.Diverged() {
		return upper, nil
	}
	lowerSettings, _ := o.offloads.Lower()
	lower = &Request{OID: req.OID, Method: req.Method, Data: encodeRSSSettings(lowerSettings)}
	return upper, lower
}

func decodeRSSSettings(data []byte) offload.RSSSettings {
	s := offload.RSSSettings{}
	if len(data) < 8 {
		return s
	}
	s.HashType = byteOrderUint32(data[0:4])
	s.HashFunc = byteOrderUint32(data[4:8])
	for i := 8; i+4 <= len(data); i += 4 {
		s.IndirTable = append(s.IndirTable, byteOrderUint32(data[i:i+4]))
	}
	return s
}

func encodeRSSSettings(s offload.RSSSettings) []byte {
	out := make([]byte, 8+4*len(s.IndirTable))
	putByteOrderUint32(out[0:4], s.HashType)
	putByteOrderUint32(out[4:8], s.HashFunc)
	for i, v := range s.IndirTable {
		putByteOrderUint32(out[8+4*i:12+4*i], v)
	}
	return out
}

func byteOrderUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putByteOrderUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
