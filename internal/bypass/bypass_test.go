package bypass

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceZeroToOneRequestsRestart(t *testing.T) {
	d := New(1)
	defer d.Close()

	needRestart := d.Reference()
	assert.True(t, needRestart)
	assert.Equal(t, 1, d.Count())
}

func TestReferenceAboveOneDoesNotRequestRestart(t *testing.T) {
	d := New(1)
	defer d.Close()

	require.True(t, d.Reference())
	assert.False(t, d.Reference())
	assert.Equal(t, 2, d.Count())
}

func TestDereferenceDonatesViaDelayTimer(t *testing.T) {
	d := New(10) // long delay so the timer definitely hasn't fired yet
	defer d.Close()

	require.True(t, d.Reference())
	needRestart := d.Dereference()
	assert.False(t, needRestart, "dereference at count=1 should defer via the delay timer")
	assert.Equal(t, 1, d.Count(), "count is not decremented while the timer holds the donated reference")
}

func TestReferenceReclaimsDonatedTimer(t *testing.T) {
	d := New(10)
	defer d.Close()

	require.True(t, d.Reference())
	require.False(t, d.Dereference())

	needRestart := d.Reference()
	assert.False(t, needRestart, "reclaiming a donated reference never needs a restart")
	assert.Equal(t, 1, d.Count())
}

func TestDelayDetachTimerFiringCompletesTheDeferredDetach(t *testing.T) {
	d := New(1) // shortest real delay; the test waits for it to actually fire
	defer d.Close()

	restarted := make(chan struct{})
	d.SetRestartHandler(func() { close(restarted) })

	require.True(t, d.Reference())
	require.False(t, d.Dereference(), "dereference at count=1 defers via the delay timer")
	assert.Equal(t, 1, d.Count(), "count is not decremented while the timer holds the reference")

	select {
	case <-restarted:
	case <-time.After(3 * time.Second):
		t.Fatal("delay-detach timer never fired the restart handler")
	}

	assert.Equal(t, 0, d.Count(), "the timer firing completes the 1->0 transition it deferred")
}

func TestWaitReadyTimesOutWithoutMarkReady(t *testing.T) {
	d := New(1)
	defer d.Close()

	start := time.Now()
	ok := d.WaitReady()
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitReadySucceedsAfterMarkReady(t *testing.T) {
	d := New(1)
	defer d.Close()

	d.MarkReady()
	assert.True(t, d.WaitReady())
}
