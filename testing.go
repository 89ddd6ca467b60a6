package xdpgeneric

import "sync"

// MockObserver is a test-facing Observer that records every call for
// assertion, mirroring the teacher's MockBackend call-tracking idiom
// (counters plus a Reset, guarded by one mutex).
type MockObserver struct {
	mu sync.Mutex

	rxCalls, txCalls             int
	actionCalls, queueDepthCalls int
	forwardingFailures           int
	framesDroppedPause          int
	mappingFailures             int

	lastRxBytes     uint64
	lastTxBytes     uint64
	lastTxLatencyNs uint64
	lastAction      ClassifyAction
	lastQueueDepth  uint32
}

// NewMockObserver creates an empty MockObserver.
func NewMockObserver() *MockObserver {
	return &MockObserver{}
}

func (o *MockObserver) ObserveRx(bytes uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rxCalls++
	o.lastRxBytes = bytes
}

func (o *MockObserver) ObserveTx(bytes uint64, latencyNs uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.txCalls++
	o.lastTxBytes = bytes
	o.lastTxLatencyNs = latencyNs
}

func (o *MockObserver) ObserveAction(action ClassifyAction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actionCalls++
	o.lastAction = action
}

func (o *MockObserver) ObserveQueueDepth(depth uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queueDepthCalls++
	o.lastQueueDepth = depth
}

func (o *MockObserver) ObserveForwardingFailure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forwardingFailures++
}

func (o *MockObserver) ObserveFramesDroppedPause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.framesDroppedPause++
}

func (o *MockObserver) ObserveMappingFailure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mappingFailures++
}

// Counts returns every call counter in one snapshot, for assertions.
func (o *MockObserver) Counts() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return map[string]int{
		"rx":                   o.rxCalls,
		"tx":                   o.txCalls,
		"action":               o.actionCalls,
		"queue_depth":          o.queueDepthCalls,
		"forwarding_failure":   o.forwardingFailures,
		"frames_dropped_pause": o.framesDroppedPause,
		"mapping_failure":      o.mappingFailures,
	}
}

// Reset clears all counters.
func (o *MockObserver) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	*o = MockObserver{}
}

var _ Observer = (*MockObserver)(nil)
