// Package xdpgeneric is the public API for the generic-mode packet
// filter datapath: attach a rule-governed classifier in front of a set
// of RSS queues, observe it through Metrics, and tear it down cleanly.
//
// Mirrors the shape of the teacher's root ublk package (Device,
// CreateAndServe, DeviceParams, Metrics, Error): a Params struct with
// defaults, an Attach constructor that wires the datapath and starts
// its background machinery, and a handle type with a lifecycle and an
// embedded Metrics.
package xdpgeneric

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/xdpgeneric/xdpgeneric/internal/bypass"
	"github.com/xdpgeneric/xdpgeneric/internal/classify"
	"github.com/xdpgeneric/xdpgeneric/internal/config"
	"github.com/xdpgeneric/xdpgeneric/internal/constants"
	"github.com/xdpgeneric/xdpgeneric/internal/ioctlsrv"
	"github.com/xdpgeneric/xdpgeneric/internal/lifetime"
	"github.com/xdpgeneric/xdpgeneric/internal/nic/fake"
	"github.com/xdpgeneric/xdpgeneric/internal/oid"
	"github.com/xdpgeneric/xdpgeneric/internal/offload"
	"github.com/xdpgeneric/xdpgeneric/internal/rss"
)

// Rule re-exports internal/classify's Rule for the public API; callers
// build rule lists without importing an internal package.
type Rule = classify.Rule

// FilterState is the lifecycle of an attached Filter (spec §4.5
// datapath bypass reference counting collapsed to the single-filter
// caller's view of it).
type FilterState int

const (
	FilterDetached FilterState = iota
	FilterAttached
	FilterPaused
)

func (s FilterState) String() string {
	switch s {
	case FilterDetached:
		return "detached"
	case FilterAttached:
		return "attached"
	case FilterPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Params configures a Filter at Attach time.
type Params struct {
	// QueueCount is the number of RSS queues to size the indirection
	// table for. constants.AutoAssignQueueCount (-1) sizes it from
	// runtime.NumCPU().
	QueueCount int

	// ConfigPath is an optional TOML file layered over compiled-in
	// defaults (internal/config); empty disables the file layer.
	ConfigPath string

	// Rules is the initial classifier rule list; may be changed later
	// with SetRules.
	Rules []Rule

	// Observer receives datapath events; defaults to NoOpObserver.
	Observer Observer
}

// DefaultParams returns Params with one queue per CPU and no file
// config layer.
func DefaultParams() Params {
	return Params{
		QueueCount: constants.AutoAssignQueueCount,
		Rules:      []Rule{{Kind: classify.RuleAll, Action: ActionPass}},
	}
}

// Filter is an attached datapath instance: the classifier rule list,
// the RSS indirection table driving queue selection, the bypass
// reference count gating teardown, and the metrics observing both.
type Filter struct {
	mu    sync.Mutex
	state FilterState

	rules []Rule

	rssTable *rss.Table
	queues   []*rss.Queue

	bindings   []queueBinding
	driver     *fake.Driver
	oid        *oid.Inspector
	offloads   *offload.Manager
	ioctl      *ioctlsrv.Server
	cancelEC   context.CancelFunc

	datapath *bypass.Datapath
	arena    *lifetime.Arena
	watcher  *config.Watcher

	metrics  *Metrics
	observer Observer
}

// Attach validates params, builds the RSS indirection table and
// supporting arena/watcher/bypass machinery, and returns a running
// Filter. Mirrors the teacher's CreateAndServe: validate parameters,
// construct the backing state, start background goroutines, return a
// handle the caller later tears down with Detach.
func Attach(params Params) (*Filter, error) {
	if err := classify.Validate(params.Rules); err != nil {
		return nil, WrapError("ATTACH_FILTER", err)
	}

	queueCount := params.QueueCount
	if queueCount == constants.AutoAssignQueueCount {
		queueCount = runtime.NumCPU()
	}
	if queueCount <= 0 {
		return nil, NewError("ATTACH_FILTER", ErrCodeInvalidParameter, "queue count must be positive")
	}

	cfg, err := config.Load(params.ConfigPath)
	if err != nil {
		return nil, WrapError("ATTACH_FILTER", err)
	}

	arena := lifetime.New(queueCount*4, runtime.NumCPU())

	queues := make([]*rss.Queue, queueCount)
	entries := make([]uint32, nextPowerOfTwo(queueCount))
	for i := range queues {
		queues[i] = rss.NewQueue(i)
		queues[i].SetIdealProcessor(i % runtime.NumCPU())
	}
	for i := range entries {
		entries[i] = uint32(i % queueCount)
	}

	table := rss.New(arena)
	if err := table.Republish(queues, entries); err != nil {
		arena.Shutdown()
		return nil, WrapError("ATTACH_FILTER", err)
	}

	watcher, err := config.NewWatcher(params.ConfigPath)
	if err != nil {
		arena.Shutdown()
		return nil, WrapError("ATTACH_FILTER", err)
	}
	watcher.Start()

	observer := params.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}

	ecCtx, cancelEC := context.WithCancel(context.Background())
	driver := driverFor()
	bindings, oidInspector, offloads, ioctlServer := buildDatapath(
		ecCtx, queues, driver, params.Rules, observer,
		cfg.RxFwdBufferLimit, cfg.TxFrameCount,
	)

	f := &Filter{
		state:    FilterAttached,
		rules:    append([]Rule(nil), params.Rules...),
		rssTable: table,
		queues:   queues,
		bindings: bindings,
		driver:   driver,
		oid:      oidInspector,
		offloads: offloads,
		ioctl:    ioctlServer,
		cancelEC: cancelEC,
		datapath: bypass.New(cfg.DelayDetachTimeoutSec),
		arena:    arena,
		watcher:  watcher,
		metrics:  NewMetrics(),
		observer: observer,
	}
	f.datapath.MarkReady()
	f.ioctl.BindState(f)
	return f, nil
}

// Running implements internal/ioctlsrv.DatapathState: the control
// surface's DATAPATH_GET_STATE reports true only while attached and
// not paused.
func (f *Filter) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == FilterAttached
}

// nextPowerOfTwo rounds n up to the next power of two, per the RSS
// indirection table's size invariant (spec §3).
func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

// State returns the filter's current lifecycle state.
func (f *Filter) State() FilterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Rules returns a copy of the current classifier rule list.
func (f *Filter) Rules() []Rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Rule(nil), f.rules...)
}

// SetRules atomically replaces the classifier rule list, enforcing the
// same validation Attach applies (spec §4.6: "EBPF is the sole
// unconditional rule").
func (f *Filter) SetRules(rules []Rule) error {
	if err := classify.Validate(rules); err != nil {
		return WrapError("SET_RULES", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FilterDetached {
		return NewError("SET_RULES", ErrCodeDeviceNotReady, "filter is detached")
	}
	f.rules = append([]Rule(nil), rules...)
	for i := range f.bindings {
		f.bindings[i].rx.SetRules(f.rules)
	}
	return nil
}

// RSSTable exposes the indirection table for queue-aware callers
// (internal/rx's per-frame queue routing).
func (f *Filter) RSSTable() *rss.Table { return f.rssTable }

// Metrics returns the filter's metrics instance.
func (f *Filter) Metrics() *Metrics { return f.metrics }

// ControlSurface exposes the filter's IOCTL-equivalent control server
// (spec §6.4) for in-process callers; out-of-process callers instead
// reach it through ioctlsrv.Listen.
func (f *Filter) ControlSurface() *ioctlsrv.Server { return f.ioctl }

// InjectFrame feeds data into RX queue idx's frame ring as though the
// NIC had just received it, for tests exercising the datapath without
// a live interface.
func (f *Filter) InjectFrame(idx int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx < 0 || idx >= len(f.bindings) {
		return NewError("INJECT_FRAME", ErrCodeInvalidParameter, "queue index out of range")
	}
	d := f.driver.Inject(data)
	if err := f.bindings[idx].rxQueue.FrameRing().Push(d); err != nil {
		return WrapError("INJECT_FRAME", err)
	}
	f.bindings[idx].ec.Notify()
	return nil
}

// Pause transitions an attached filter to paused: RX stops being
// dispatched but the bypass reference count and queue set are left
// intact for a subsequent Resume (spec §4.5 reference-counted bypass).
func (f *Filter) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FilterAttached {
		return NewError("PAUSE_FILTER", ErrCodeInvalidParameter, fmt.Sprintf("cannot pause from state %s", f.state))
	}
	for i := range f.bindings {
		_ = f.bindings[i].rxQueue.Pause()
		_ = f.bindings[i].tx.Pause()
	}
	f.state = FilterPaused
	return nil
}

// Resume reverses Pause.
func (f *Filter) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FilterPaused {
		return NewError("RESUME_FILTER", ErrCodeInvalidParameter, fmt.Sprintf("cannot resume from state %s", f.state))
	}
	for i := range f.bindings {
		_ = f.bindings[i].rxQueue.Start()
		_ = f.bindings[i].tx.Restart()
	}
	f.state = FilterAttached
	return nil
}

// Detach tears the filter down: stops the config watcher, drains the
// deferred-deletion arena, closes the bypass timer, and marks metrics
// stopped. Mirrors the teacher's StopAndDelete ordering (stop intake
// before releasing shared state).
func (f *Filter) Detach() error {
	f.mu.Lock()
	if f.state == FilterDetached {
		f.mu.Unlock()
		return NewError("DETACH_FILTER", ErrCodeInvalidParameter, "already detached")
	}
	f.state = FilterDetached
	f.mu.Unlock()

	for i := range f.bindings {
		f.bindings[i].ec.Cleanup()
	}
	f.cancelEC()
	_ = f.driver.Close()

	f.watcher.Stop()
	f.datapath.DetachDatapath()
	f.datapath.Close()
	f.arena.Shutdown()
	f.metrics.Stop()
	return nil
}
