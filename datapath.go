// This file wires the per-RSS-queue RX/TX engines, the NIC driver, the
// OID inspector, and the control-surface server into Filter — the
// collaborators internal/rx, internal/tx, internal/nic, internal/oid,
// internal/offload, and internal/ioctlsrv each assume a caller
// assembles per spec §3's RX/TX queue data model.
//
// Grounded on the teacher's Device/Runner split: Device (here, Filter)
// owns the set of per-queue Runners (here, queueBinding) and their
// execution contexts, constructed once in CreateAndServe/Attach and
// torn down once in StopAndDelete/Detach.
package xdpgeneric

import (
	"context"

	"github.com/xdpgeneric/xdpgeneric/internal/classify"
	"github.com/xdpgeneric/xdpgeneric/internal/constants"
	"github.com/xdpgeneric/xdpgeneric/internal/ec"
	"github.com/xdpgeneric/xdpgeneric/internal/ioctlsrv"
	"github.com/xdpgeneric/xdpgeneric/internal/nic"
	"github.com/xdpgeneric/xdpgeneric/internal/nic/fake"
	"github.com/xdpgeneric/xdpgeneric/internal/oid"
	"github.com/xdpgeneric/xdpgeneric/internal/offload"
	"github.com/xdpgeneric/xdpgeneric/internal/queue"
	"github.com/xdpgeneric/xdpgeneric/internal/ring"
	"github.com/xdpgeneric/xdpgeneric/internal/rss"
	"github.com/xdpgeneric/xdpgeneric/internal/rx"
	"github.com/xdpgeneric/xdpgeneric/internal/tx"
)

// rxObserverAdapter/txObserverAdapter narrow the public Observer down
// to internal/rx.Observer/internal/tx.Observer's per-frame event
// shape, since those packages never import root (root imports
// internal, never the reverse) and so declare their own interfaces
// with different method names than Observer's aggregate
// ObserveRx/ObserveTx.
type rxObserverAdapter struct{ o Observer }

func (a rxObserverAdapter) ObserveRxFrame(bytes uint64)        { a.o.ObserveRx(bytes) }
func (a rxObserverAdapter) ObserveAction(action classify.Action) { a.o.ObserveAction(action) }
func (a rxObserverAdapter) ObserveMappingFailure()             { a.o.ObserveMappingFailure() }
func (a rxObserverAdapter) ObserveForwardingFailure()          { a.o.ObserveForwardingFailure() }

type txObserverAdapter struct{ o Observer }

func (a txObserverAdapter) ObserveTxFrame(bytes uint64)   { a.o.ObserveTx(bytes, 0) }
func (a txObserverAdapter) ObserveForwardingFailure()     { a.o.ObserveForwardingFailure() }
func (a txObserverAdapter) ObserveFramesDroppedPause()    { a.o.ObserveFramesDroppedPause() }

// queueBinding is one RSS queue's full datapath: an RX engine polling
// into a hairpin TX queue, a TX engine draining that same queue, and
// the execution context that schedules both.
type queueBinding struct {
	rxQueue *queue.RXQueue
	txQueue *queue.TXQueue
	rx      *rx.Engine
	tx      *tx.Engine
	ec      *ec.EC
}

// driverFor returns the NIC backing for a Filter. Production callers
// wanting a real interface construct one through internal/nic/afxdp
// directly and are expected to route frames into the fake driver's
// in-process queues only for tests — Attach always uses the in-process
// fake.Driver, since Params carries no interface name to bind an
// AF_XDP socket to. A future Params.Interface field would let Attach
// pick afxdp.Open instead; until then this is the documented default.
func driverFor() *fake.Driver {
	return fake.New()
}

// buildDatapath constructs one queueBinding per RSS queue and the
// shared OID inspector/offload manager/control-surface server, per
// spec §3's RX/TX queue model and §4.10/§6.4's OID and IOCTL surfaces.
func buildDatapath(ctx context.Context, queues []*rss.Queue, driver *fake.Driver, rules []Rule, observer Observer, rxFwdBufferLimit, txFrameCount int) ([]queueBinding, *oid.Inspector, *offload.Manager, *ioctlsrv.Server) {
	offloads := offload.New()
	oidInspector := oid.New(offloads)

	bindings := make([]queueBinding, len(queues))
	for i, q := range queues {
		frameRing := ring.New(constants.DefaultQueueDepth)
		rxQ := queue.NewRXQueue(i, frameRing, nil, q, rxFwdBufferLimit)
		_ = rxQ.Attach()
		_ = rxQ.Activate()
		_ = rxQ.Start()

		txFrameRing := ring.New(constants.DefaultQueueDepth)
		compRing := ring.New(constants.DefaultQueueDepth)
		txQ := queue.NewTXQueue(i, txFrameRing, compRing, q, txFrameCount)
		_ = txQ.Attach()
		_ = txQ.Activate()
		_ = txQ.Start()

		var nicDriver nic.Driver = driver
		rxEngine := rx.New(rxQ, nicDriver, nicDriver, nicDriver, txQ, rxObserverAdapter{o: observer})
		rxEngine.SetRules(rules)
		txEngine := tx.New(txQ, nicDriver, txObserverAdapter{o: observer})

		b := &bindings[i]
		b.rxQueue, b.txQueue, b.rx, b.tx = rxQ, txQ, rxEngine, txEngine
		b.ec = ec.Initialize(ctx, b.poll, q)
		rxQ.BindEC(b.ec)
		txQ.BindEC(b.ec)
	}

	ioctlServer := ioctlsrv.New(nil, oidInspector, driver)
	for i := range bindings {
		ioctlServer.AddRXQueue(bindings[i].rx, driver)
		ioctlServer.AddTXQueue(bindings[i].tx, driver)
	}

	return bindings, oidInspector, offloads, ioctlServer
}

// poll is the queueBinding's ec.PollFunc: drain RX, then drive the TX
// hairpin's initiate/complete cycle, reporting whether either side
// still has pending work for the next quantum iteration.
func (b *queueBinding) poll(ctx context.Context) bool {
	moreRx, _ := b.rx.Poll()
	moreTx, _ := b.tx.Initiate()
	b.tx.Complete()
	return moreRx || moreTx
}
