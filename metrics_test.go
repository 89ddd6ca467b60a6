package xdpgeneric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRxTx(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	assert.Zero(t, snap.TotalFrames)

	m.RecordRx(1024)
	m.RecordTx(512, 1_000_000)
	m.RecordRx(256)

	snap = m.Snapshot()
	assert.Equal(t, uint64(2), snap.RxFrames)
	assert.Equal(t, uint64(1), snap.TxFrames)
	assert.Equal(t, uint64(1024+256), snap.RxBytes)
	assert.Equal(t, uint64(512), snap.TxBytes)
	assert.Equal(t, snap.RxFrames+snap.TxFrames, snap.TotalFrames)
}

func TestMetricsActionCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordAction(ActionPass)
	m.RecordAction(ActionDrop)
	m.RecordAction(ActionDrop)
	m.RecordAction(ActionRedirect)
	m.RecordAction(ActionL2Fwd)
	m.RecordAction(ActionEbpf)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.ActionPass)
	assert.Equal(t, uint64(2), snap.ActionDrop)
	assert.Equal(t, uint64(1), snap.ActionRedirect)
	assert.Equal(t, uint64(1), snap.ActionL2Fwd)
	assert.Equal(t, uint64(1), snap.ActionEbpf)
}

func TestMetricsFailureCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordForwardingFailure()
	m.RecordFramesDroppedPause()
	m.RecordFramesDroppedPause()
	m.RecordMappingFailure()

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.ForwardingFailures)
	assert.Equal(t, uint64(2), snap.FramesDroppedPause)
	assert.Equal(t, uint64(1), snap.MappingFailure)
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(10)
	m.RecordQueueDepth(20)
	m.RecordQueueDepth(15)

	snap := m.Snapshot()
	assert.Equal(t, uint32(20), snap.MaxQueueDepth)
	assert.InDelta(t, float64(10+20+15)/3.0, snap.AvgQueueDepth, 0.1)
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordTx(1024, 1_000_000)
	m.RecordTx(1024, 2_000_000)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1_500_000), snap.AvgLatencyNs)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)
	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	time.Sleep(5 * time.Millisecond)
	snap2 := m.Snapshot()
	assert.LessOrEqual(t, snap2.UptimeNs, snap.UptimeNs+uint64(2*time.Millisecond))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordRx(1024)
	m.RecordTx(2048, 1_000_000)
	m.RecordQueueDepth(10)

	snap := m.Snapshot()
	assert.NotZero(t, snap.TotalFrames)

	m.Reset()

	snap = m.Snapshot()
	assert.Zero(t, snap.TotalFrames)
	assert.Zero(t, snap.TotalBytes)
	assert.Zero(t, snap.MaxQueueDepth)
}

func TestObserverNoOpDoesNotPanic(t *testing.T) {
	o := NoOpObserver{}
	assert.NotPanics(t, func() {
		o.ObserveRx(1024)
		o.ObserveTx(1024, 1_000_000)
		o.ObserveAction(ActionPass)
		o.ObserveQueueDepth(10)
		o.ObserveForwardingFailure()
		o.ObserveFramesDroppedPause()
		o.ObserveMappingFailure()
	})
}

func TestMetricsObserverForwardsToMetrics(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveRx(1024)
	o.ObserveTx(2048, 1_000_000)
	o.ObserveForwardingFailure()

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.RxFrames)
	assert.Equal(t, uint64(1), snap.TxFrames)
	assert.Equal(t, uint64(1024), snap.RxBytes)
	assert.Equal(t, uint64(2048), snap.TxBytes)
	assert.Equal(t, uint64(1), snap.ForwardingFailures)
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordRx(1024)
	m.RecordTx(2048, 1_000_000)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()
	assert.InDelta(t, 1.0, snap.RxPPS, 0.1)
	assert.InDelta(t, 1.0, snap.TxPPS, 0.1)
	assert.InDelta(t, 1024, snap.RxBps, 50)
	assert.InDelta(t, 2048, snap.TxBps, 50)
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordTx(1024, 500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordTx(1024, 5_000_000) // 5ms
	}
	m.RecordTx(1024, 50_000_000) // 50ms, P99

	snap := m.Snapshot()
	assert.Equal(t, uint64(100), snap.TxFrames)
	assert.InDelta(t, 500_000, float64(snap.LatencyP50Ns), 500_000)
	assert.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))

	var totalInBuckets uint64
	for _, v := range snap.LatencyHistogram {
		totalInBuckets += v
	}
	assert.NotZero(t, totalInBuckets)
}
