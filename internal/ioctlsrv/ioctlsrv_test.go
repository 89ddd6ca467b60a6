package ioctlsrv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdpgeneric/xdpgeneric/internal/classify"
	"github.com/xdpgeneric/xdpgeneric/internal/nic/fake"
	"github.com/xdpgeneric/xdpgeneric/internal/oid"
	"github.com/xdpgeneric/xdpgeneric/internal/offload"
	"github.com/xdpgeneric/xdpgeneric/internal/queue"
	"github.com/xdpgeneric/xdpgeneric/internal/ring"
	"github.com/xdpgeneric/xdpgeneric/internal/rss"
	"github.com/xdpgeneric/xdpgeneric/internal/rx"
	"github.com/xdpgeneric/xdpgeneric/internal/tx"
)

// fakeObserver satisfies both rx.Observer and tx.Observer without
// recording anything; the test cares about Server's dispatch, not the
// engines' metrics wiring (covered by internal/rx and internal/tx's
// own tests).
type fakeObserver struct{}

func (fakeObserver) ObserveRxFrame(uint64)        {}
func (fakeObserver) ObserveTxFrame(uint64)        {}
func (fakeObserver) ObserveAction(classify.Action) {}
func (fakeObserver) ObserveMappingFailure()       {}
func (fakeObserver) ObserveForwardingFailure()    {}
func (fakeObserver) ObserveFramesDroppedPause()   {}

// fakeState is a DatapathState test double.
type fakeState struct{ running bool }

func (s *fakeState) Running() bool { return s.running }

// fakeDownstream records submitted OID requests and either accepts or
// rejects them.
type fakeDownstream struct {
	submitted []*oid.Request
	err       error
}

func (d *fakeDownstream) Submit(req *oid.Request) error {
	d.submitted = append(d.submitted, req)
	if d.err != nil {
		return d.err
	}
	req.BytesWritten = uint32(len(req.Data))
	return nil
}

func newTestRXEngine(t *testing.T, capacity int) (*rx.Engine, *fake.Driver, *queue.RXQueue) {
	t.Helper()
	driver := fake.New()
	frameRing := ring.New(capacity)
	q := queue.NewRXQueue(0, frameRing, nil, rss.NewQueue(0), 4)
	require.NoError(t, q.Attach())
	require.NoError(t, q.Activate())
	require.NoError(t, q.Start())
	e := rx.New(q, driver, driver, driver, nil, fakeObserver{})
	return e, driver, q
}

func newTestTXEngine(t *testing.T, capacity int) (*tx.Engine, *fake.Driver, *queue.TXQueue) {
	t.Helper()
	driver := fake.New()
	frameRing := ring.New(capacity)
	completionRing := ring.New(capacity)
	q := queue.NewTXQueue(0, frameRing, completionRing, rss.NewQueue(0), capacity)
	require.NoError(t, q.Attach())
	require.NoError(t, q.Activate())
	require.NoError(t, q.Start())
	e := tx.New(q, driver, fakeObserver{})
	return e, driver, q
}

func TestHandleUnknownOpIsInvalidParameter(t *testing.T) {
	s := New(&fakeState{}, nil, nil)
	resp := s.Handle(Request{Op: "BOGUS"})
	assert.Equal(t, InvalidParameter, resp.Code)
}

func TestRxFilterUnknownQueueIsNotFound(t *testing.T) {
	s := New(&fakeState{}, nil, nil)
	resp := s.Handle(Request{Op: OpRxFilter, Queue: 0})
	assert.Equal(t, NotFound, resp.Code)
}

func TestRxFilterValidatesAndApplies(t *testing.T) {
	e, _, _ := newTestRXEngine(t, 8)
	s := New(&fakeState{}, nil, nil)
	idx := s.AddRXQueue(e, fake.New())

	rules := []classify.Rule{{Kind: classify.RuleAll, Action: classify.ActionDrop}}
	resp := s.Handle(Request{Op: OpRxFilter, Queue: idx, Rules: rules})
	require.Equal(t, Success, resp.Code)
}

func TestRxFilterRejectsInvalidRuleSet(t *testing.T) {
	e, _, _ := newTestRXEngine(t, 8)
	s := New(&fakeState{}, nil, nil)
	idx := s.AddRXQueue(e, fake.New())

	bad := []classify.Rule{
		{Kind: classify.RuleAll, Action: classify.ActionEbpf},
		{Kind: classify.RuleAll, Action: classify.ActionPass},
	}
	resp := s.Handle(Request{Op: OpRxFilter, Queue: idx, Rules: bad})
	assert.Equal(t, InvalidParameter, resp.Code)
}

func TestRxGetFramePeeksWithoutConsuming(t *testing.T) {
	e, driver, q := newTestRXEngine(t, 8)
	s := New(&fakeState{}, nil, nil)
	idx := s.AddRXQueue(e, driver)

	d := driver.Inject([]byte("hello"))
	require.NoError(t, q.FrameRing().Push(d))

	resp := s.Handle(Request{Op: OpRxGetFrame, Queue: idx})
	require.Equal(t, Success, resp.Code)
	assert.Equal(t, []byte("hello"), resp.Data)

	// Peek must not have consumed the descriptor.
	resp2 := s.Handle(Request{Op: OpRxGetFrame, Queue: idx})
	require.Equal(t, Success, resp2.Code)
	assert.Equal(t, []byte("hello"), resp2.Data)
}

func TestRxGetFrameEmptyIsNotFound(t *testing.T) {
	e, driver, _ := newTestRXEngine(t, 8)
	s := New(&fakeState{}, nil, nil)
	idx := s.AddRXQueue(e, driver)

	resp := s.Handle(Request{Op: OpRxGetFrame, Queue: idx})
	assert.Equal(t, NotFound, resp.Code)
}

func TestRxGetFrameBufferTooSmall(t *testing.T) {
	e, driver, q := newTestRXEngine(t, 8)
	s := New(&fakeState{}, nil, nil)
	idx := s.AddRXQueue(e, driver)

	d := driver.Inject([]byte("hello world"))
	require.NoError(t, q.FrameRing().Push(d))

	resp := s.Handle(Request{Op: OpRxGetFrame, Queue: idx, MinBufferLen: 4})
	require.Equal(t, BufferTooSmall, resp.Code)
	assert.Equal(t, uint32(len("hello world")), resp.BytesNeeded)
}

func TestRxDequeueFrameConsumes(t *testing.T) {
	e, driver, q := newTestRXEngine(t, 8)
	s := New(&fakeState{}, nil, nil)
	idx := s.AddRXQueue(e, driver)

	d := driver.Inject([]byte("bye"))
	require.NoError(t, q.FrameRing().Push(d))

	resp := s.Handle(Request{Op: OpRxDequeueFrame, Queue: idx})
	require.Equal(t, Success, resp.Code)
	assert.Equal(t, []byte("bye"), resp.Data)

	resp2 := s.Handle(Request{Op: OpRxDequeueFrame, Queue: idx})
	assert.Equal(t, NotFound, resp2.Code)
}

func TestRxFlushDrainsRing(t *testing.T) {
	e, driver, q := newTestRXEngine(t, 8)
	s := New(&fakeState{}, nil, nil)
	idx := s.AddRXQueue(e, driver)

	d := driver.Inject([]byte("flush me"))
	require.NoError(t, q.FrameRing().Push(d))

	resp := s.Handle(Request{Op: OpRxFlush, Queue: idx})
	require.Equal(t, Success, resp.Code)
	assert.Equal(t, uint32(0), q.FrameRing().Pending())
	assert.Len(t, driver.Released, 1)
}

func TestTxEnqueueAndFlush(t *testing.T) {
	e, driver, q := newTestTXEngine(t, 8)
	s := New(&fakeState{}, nil, nil)
	idx := s.AddTXQueue(e, driver)

	resp := s.Handle(Request{Op: OpTxEnqueue, Queue: idx, Data: []byte("payload")})
	require.Equal(t, Success, resp.Code)
	assert.Equal(t, uint32(1), q.FrameRing().Pending())

	resp2 := s.Handle(Request{Op: OpTxFlush, Queue: idx})
	require.Equal(t, Success, resp2.Code)
	assert.Len(t, driver.Sent, 1)
}

func TestTxEnqueueEmptyPayloadIsInvalidParameter(t *testing.T) {
	e, driver, _ := newTestTXEngine(t, 8)
	s := New(&fakeState{}, nil, nil)
	idx := s.AddTXQueue(e, driver)

	resp := s.Handle(Request{Op: OpTxEnqueue, Queue: idx})
	assert.Equal(t, InvalidParameter, resp.Code)
}

func TestTxEnqueueUnknownQueueIsNotFound(t *testing.T) {
	s := New(&fakeState{}, nil, nil)
	resp := s.Handle(Request{Op: OpTxEnqueue, Queue: 3, Data: []byte("x")})
	assert.Equal(t, NotFound, resp.Code)
}

func TestOidSubmitRequestPassThrough(t *testing.T) {
	offloads := offload.New()
	inspector := oid.New(offloads)
	downstream := &fakeDownstream{}
	s := New(&fakeState{}, inspector, downstream)

	resp := s.Handle(Request{
		Op:        OpOidSubmitRequest,
		OIDCode:   oid.OID(0x00010101),
		OIDMethod: oid.MethodQuery,
		Data:      []byte{1, 2, 3, 4},
	})
	require.Equal(t, Success, resp.Code)
	assert.Len(t, downstream.submitted, 1)
}

func TestOidSubmitRequestNoInspectorIsNotReady(t *testing.T) {
	s := New(&fakeState{}, nil, nil)
	resp := s.Handle(Request{Op: OpOidSubmitRequest})
	assert.Equal(t, NotReady, resp.Code)
}

func TestOidSubmitRequestNoDownstreamIsNotReady(t *testing.T) {
	offloads := offload.New()
	inspector := oid.New(offloads)
	s := New(&fakeState{}, inspector, nil)

	resp := s.Handle(Request{
		Op:        OpOidSubmitRequest,
		OIDCode:   oid.OID(0x00010101),
		OIDMethod: oid.MethodQuery,
	})
	assert.Equal(t, NotReady, resp.Code)
}

func TestOidSubmitRequestDownstreamFailureIsNotReady(t *testing.T) {
	offloads := offload.New()
	inspector := oid.New(offloads)
	downstream := &fakeDownstream{err: errors.New("nic busy")}
	s := New(&fakeState{}, inspector, downstream)

	resp := s.Handle(Request{
		Op:        OpOidSubmitRequest,
		OIDCode:   oid.OID(0x00010101),
		OIDMethod: oid.MethodQuery,
	})
	assert.Equal(t, NotReady, resp.Code)
}

func TestStatusSetFilterThenGetIndication(t *testing.T) {
	s := New(&fakeState{}, nil, nil)

	resp := s.Handle(Request{Op: OpStatusSetFilter, Data: []byte{0xFF}})
	require.Equal(t, Success, resp.Code)

	// No indication pushed yet.
	resp2 := s.Handle(Request{Op: OpStatusGetIndication})
	assert.Equal(t, NotFound, resp2.Code)

	s.PushIndication([]byte("link up"))
	resp3 := s.Handle(Request{Op: OpStatusGetIndication})
	require.Equal(t, Success, resp3.Code)
	assert.Equal(t, []byte("link up"), resp3.Data)
}

func TestDatapathGetState(t *testing.T) {
	state := &fakeState{running: true}
	s := New(state, nil, nil)

	resp := s.Handle(Request{Op: OpDatapathGetState})
	require.Equal(t, Success, resp.Code)
	assert.Equal(t, []byte{1}, resp.Data)

	state.running = false
	resp2 := s.Handle(Request{Op: OpDatapathGetState})
	require.Equal(t, Success, resp2.Code)
	assert.Equal(t, []byte{0}, resp2.Data)
}

func TestDatapathGetStateNoStateIsNotReady(t *testing.T) {
	s := New(nil, nil, nil)
	resp := s.Handle(Request{Op: OpDatapathGetState})
	assert.Equal(t, NotReady, resp.Code)
}
