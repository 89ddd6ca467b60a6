// Package ioctlsrv implements the user-mode control surface (spec
// §6.4): a fixed set of operations against the RX/TX queues, the OID
// inspector, and the datapath's run state, each taking and returning a
// fixed-shape Request/Response pair and a typed exit code.
//
// The original exposes this surface as Win32 DeviceIoControl calls
// against a fixed IOCTL code and system buffer; there is no ioctl(2)
// analogue for a userspace packet engine, so this rewrite keeps the
// same request/response struct style and exit-code taxonomy (§7) but
// replaces the transport with an in-process call (Server.Handle) or,
// for out-of-process callers, a Unix domain socket (see transport.go).
// Grounded on the teacher's internal/ctrl package's IOCTL_* naming
// convention and typed-request/typed-response dispatch shape.
package ioctlsrv

import (
	"github.com/xdpgeneric/xdpgeneric/internal/classify"
	"github.com/xdpgeneric/xdpgeneric/internal/oid"
	"github.com/xdpgeneric/xdpgeneric/internal/ring"
	"github.com/xdpgeneric/xdpgeneric/internal/rx"
	"github.com/xdpgeneric/xdpgeneric/internal/tx"
)

// Op identifies which IOCTL a Request performs.
type Op string

const (
	OpRxFilter        Op = "RX_FILTER"
	OpRxGetFrame      Op = "RX_GET_FRAME"
	OpRxDequeueFrame  Op = "RX_DEQUEUE_FRAME"
	OpRxFlush         Op = "RX_FLUSH"
	OpTxEnqueue       Op = "TX_ENQUEUE"
	OpTxFlush         Op = "TX_FLUSH"
	OpOidSubmitRequest Op = "OID_SUBMIT_REQUEST"
	OpStatusSetFilter  Op = "STATUS_SET_FILTER"
	OpStatusGetIndication Op = "STATUS_GET_INDICATION"
	OpDatapathGetState Op = "DATAPATH_GET_STATE"
)

// ExitCode is the typed status every Response carries, per spec §6.4.
type ExitCode string

const (
	Success         ExitCode = "SUCCESS"
	NotFound        ExitCode = "NOT_FOUND"
	NotReady        ExitCode = "NOT_READY"
	BufferTooSmall  ExitCode = "BUFFER_TOO_SMALL"
	InvalidParameter ExitCode = "INVALID_PARAMETER"
)

// Request is the fixed-shape input to every IOCTL. Only the fields
// relevant to Op need be populated; unused fields are ignored.
type Request struct {
	Op      Op
	Queue   int    // RX/TX queue index
	Index   int    // RX_GET_FRAME/RX_DEQUEUE_FRAME's nominal frame index
	Data    []byte // TX_ENQUEUE payload, OID_SUBMIT_REQUEST payload
	Rules   []classify.Rule
	OIDCode oid.OID
	OIDMethod oid.Method
	MinBufferLen int // caller's buffer size, for BUFFER_TOO_SMALL checks
}

// Response is the fixed-shape output of every IOCTL.
type Response struct {
	Code ExitCode
	Data []byte // RX_GET_FRAME's frame bytes, DATAPATH_GET_STATE's single byte
	BytesRead, BytesWritten, BytesNeeded uint32
}

// rxBinding pairs one RX queue's engine with its underlying queue so
// Server can both poll it and reach into its frame ring directly for
// the debug-surface GET/DEQUEUE_FRAME operations.
type rxBinding struct {
	engine *rx.Engine
	driver interface {
		Bytes(addr uint64, length uint32) []byte
	}
}

type txBinding struct {
	engine *tx.Engine
	store  FrameSource
}

// FrameSource lets TX_ENQUEUE inject a payload into a fake/real NIC
// driver and get back the descriptor addressing it. internal/nic/fake.
// Driver satisfies this.
type FrameSource interface {
	Inject(data []byte) ring.Descriptor
}

// DatapathState reports whether the datapath is currently running, for
// DATAPATH_GET_STATE. The root Filter satisfies this structurally.
type DatapathState interface {
	Running() bool
}

// Downstream submits a pass-through OID request; ioctlsrv completes it
// synchronously once Downstream returns (there is no async NIC here).
type Downstream = oid.Downstream

// Server dispatches Requests against a fixed set of RX/TX queues, an
// OID inspector, and the datapath's run state.
type Server struct {
	rx []rxBinding
	tx []txBinding

	oid        *oid.Inspector
	downstream Downstream
	state      DatapathState

	lastFilterRules map[int][]classify.Rule
	statusFilter    []byte
	lastIndication  []byte
}

// New creates a Server. downstream may be nil if no pass-through OID
// target exists (requests needing it are answered NotReady).
func New(state DatapathState, oidInspector *oid.Inspector, downstream Downstream) *Server {
	return &Server{
		oid:             oidInspector,
		downstream:      downstream,
		state:           state,
		lastFilterRules: make(map[int][]classify.Rule),
	}
}

// BindState attaches the DatapathState a Server's DATAPATH_GET_STATE
// op reports on, for callers that construct Server before the state
// it will report on exists yet (the root Filter wires itself in after
// its own construction, since it IS the state being reported).
func (s *Server) BindState(state DatapathState) {
	s.state = state
}

// AddRXQueue registers an RX engine (and its frame-resolving driver)
// at the next queue index.
func (s *Server) AddRXQueue(engine *rx.Engine, driver interface {
	Bytes(addr uint64, length uint32) []byte
}) int {
	s.rx = append(s.rx, rxBinding{engine: engine, driver: driver})
	return len(s.rx) - 1
}

// AddTXQueue registers a TX engine (and its frame store) at the next
// queue index.
func (s *Server) AddTXQueue(engine *tx.Engine, store FrameSource) int {
	s.tx = append(s.tx, txBinding{engine: engine, store: store})
	return len(s.tx) - 1
}

// Handle dispatches req to the matching operation.
func (s *Server) Handle(req Request) Response {
	switch req.Op {
	case OpRxFilter:
		return s.rxFilter(req)
	case OpRxGetFrame:
		return s.rxGetFrame(req)
	case OpRxDequeueFrame:
		return s.rxDequeueFrame(req)
	case OpRxFlush:
		return s.rxFlush(req)
	case OpTxEnqueue:
		return s.txEnqueue(req)
	case OpTxFlush:
		return s.txFlush(req)
	case OpOidSubmitRequest:
		return s.oidSubmitRequest(req)
	case OpStatusSetFilter:
		return s.statusSetFilter(req)
	case OpStatusGetIndication:
		return s.statusGetIndication(req)
	case OpDatapathGetState:
		return s.datapathGetState(req)
	default:
		return Response{Code: InvalidParameter}
	}
}

func (s *Server) rxQueue(idx int) (*rxBinding, bool) {
	if idx < 0 || idx >= len(s.rx) {
		return nil, false
	}
	return &s.rx[idx], true
}

func (s *Server) txQueue(idx int) (*txBinding, bool) {
	if idx < 0 || idx >= len(s.tx) {
		return nil, false
	}
	return &s.tx[idx], true
}

func (s *Server) rxFilter(req Request) Response {
	b, ok := s.rxQueue(req.Queue)
	if !ok {
		return Response{Code: NotFound}
	}
	if err := classify.Validate(req.Rules); err != nil {
		return Response{Code: InvalidParameter}
	}
	b.engine.SetRules(req.Rules)
	s.lastFilterRules[req.Queue] = req.Rules
	return Response{Code: Success}
}

// rxGetFrame peeks the next pending descriptor on the RX queue's frame
// ring without consuming it. The ring is strictly FIFO, so the
// nominal frame Index the original's fixed struct carries is always
// "whatever is next" here — a documented simplification; there is no
// random-access peek in a single-producer/single-consumer ring.
func (s *Server) rxGetFrame(req Request) Response {
	b, ok := s.rxQueue(req.Queue)
	if !ok {
		return Response{Code: NotFound}
	}
	d, ok := b.engine.PeekFrame()
	if !ok {
		return Response{Code: NotFound}
	}
	data := b.driver.Bytes(d.Addr, d.Len)
	if req.MinBufferLen > 0 && len(data) > req.MinBufferLen {
		return Response{Code: BufferTooSmall, BytesNeeded: uint32(len(data))}
	}
	return Response{Code: Success, Data: data, BytesWritten: uint32(len(data))}
}

func (s *Server) rxDequeueFrame(req Request) Response {
	b, ok := s.rxQueue(req.Queue)
	if !ok {
		return Response{Code: NotFound}
	}
	d, ok := b.engine.DequeueFrame()
	if !ok {
		return Response{Code: NotFound}
	}
	data := b.driver.Bytes(d.Addr, d.Len)
	return Response{Code: Success, Data: data, BytesWritten: uint32(len(data))}
}

func (s *Server) rxFlush(req Request) Response {
	b, ok := s.rxQueue(req.Queue)
	if !ok {
		return Response{Code: NotFound}
	}
	if _, err := b.engine.Poll(); err != nil {
		return Response{Code: NotReady}
	}
	return Response{Code: Success}
}

func (s *Server) txEnqueue(req Request) Response {
	b, ok := s.txQueue(req.Queue)
	if !ok {
		return Response{Code: NotFound}
	}
	if b.store == nil {
		return Response{Code: NotReady}
	}
	if len(req.Data) == 0 {
		return Response{Code: InvalidParameter}
	}
	d := b.store.Inject(req.Data)
	if err := b.engine.EnqueueFrame(d); err != nil {
		return Response{Code: NotReady}
	}
	return Response{Code: Success}
}

func (s *Server) txFlush(req Request) Response {
	b, ok := s.txQueue(req.Queue)
	if !ok {
		return Response{Code: NotFound}
	}
	if _, err := b.engine.Initiate(); err != nil {
		return Response{Code: NotReady}
	}
	b.engine.Complete()
	return Response{Code: Success}
}

func (s *Server) oidSubmitRequest(req Request) Response {
	if s.oid == nil {
		return Response{Code: NotReady}
	}
	oidReq := &oid.Request{OID: req.OIDCode, Method: req.OIDMethod, Data: req.Data}
	out, err := s.oid.Inspect(oidReq)
	if err == oid.ErrLocallyCompleted {
		return Response{
			Code:         Success,
			BytesRead:    oidReq.BytesRead,
			BytesWritten: oidReq.BytesWritten,
			BytesNeeded:  oidReq.BytesNeeded,
		}
	}
	if err != nil {
		return Response{Code: InvalidParameter}
	}
	if s.downstream == nil {
		return Response{Code: NotReady}
	}
	if err := s.downstream.Submit(out); err != nil {
		return Response{Code: NotReady}
	}
	s.oid.Complete(out)
	return Response{
		Code:         Success,
		BytesRead:    out.BytesRead,
		BytesWritten: out.BytesWritten,
		BytesNeeded:  out.BytesNeeded,
	}
}

// statusSetFilter records which status indications the caller wants
// to receive (the filter bytes are opaque to ioctlsrv — NDIS status
// codes are outside this rewrite's scope). Setting a new filter
// discards any indication queued under the previous one.
func (s *Server) statusSetFilter(req Request) Response {
	s.statusFilter = req.Data
	s.lastIndication = nil
	return Response{Code: Success}
}

func (s *Server) statusGetIndication(req Request) Response {
	if s.lastIndication == nil {
		return Response{Code: NotFound}
	}
	return Response{Code: Success, Data: s.lastIndication, BytesWritten: uint32(len(s.lastIndication))}
}

// PushIndication makes data available to a subsequent
// STATUS_GET_INDICATION call, simulating the NDIS status-indication
// callback the original driver relays from the miniport. Not itself
// part of the IOCTL surface; called by whatever component observes a
// status event worth surfacing.
func (s *Server) PushIndication(data []byte) {
	s.lastIndication = append([]byte(nil), data...)
}

func (s *Server) datapathGetState(req Request) Response {
	if s.state == nil {
		return Response{Code: NotReady}
	}
	var b byte
	if s.state.Running() {
		b = 1
	}
	return Response{Code: Success, Data: []byte{b}}
}
