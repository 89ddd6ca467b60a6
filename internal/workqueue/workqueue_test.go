package workqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInsertRunsRoutine(t *testing.T) {
	q := New(16)
	defer q.Shutdown(true)

	var ran atomic.Bool
	q.Insert(func() { ran.Store(true) })

	assert.Eventually(t, func() bool { return ran.Load() }, time.Second, time.Millisecond)
}

func TestEntriesRunInOrder(t *testing.T) {
	q := New(64)
	defer q.Shutdown(true)

	var order []int
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		i := i
		q.Insert(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 10
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestShutdownWaitDrainsPending(t *testing.T) {
	q := New(16)
	var ran atomic.Bool
	q.Insert(func() { ran.Store(true) })
	q.Shutdown(true)
	assert.True(t, ran.Load())
}
