package lifetime

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeleteLaterRunsDestructor(t *testing.T) {
	a := New(16, 2)
	defer a.Shutdown()

	var ran atomic.Bool
	a.DeleteLater(func() { ran.Store(true) })

	assert.Eventually(t, func() bool { return ran.Load() }, time.Second, time.Millisecond)
}

func TestDeleteLaterRunsManyDestructors(t *testing.T) {
	a := New(64, 4)
	defer a.Shutdown()

	var count atomic.Int64
	const n = 50
	for i := 0; i < n; i++ {
		a.DeleteLater(func() { count.Add(1) })
	}

	assert.Eventually(t, func() bool { return count.Load() == n }, time.Second, time.Millisecond)
}

func TestShutdownDrainsPending(t *testing.T) {
	a := New(16, 2)

	var ran atomic.Bool
	a.DeleteLater(func() { ran.Store(true) })
	a.Shutdown()

	assert.True(t, ran.Load())
}
