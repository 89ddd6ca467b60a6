package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRXQueueLifecycleHappyPath(t *testing.T) {
	q := NewRXQueue(0, nil, nil, nil, 4)
	assert.Equal(t, StateCreated, q.State())

	require.NoError(t, q.Attach())
	require.NoError(t, q.Activate())
	require.NoError(t, q.Start())
	require.NoError(t, q.Pause())
	require.NoError(t, q.Start())
	require.NoError(t, q.Pause())
	require.NoError(t, q.Delete())
	assert.Equal(t, StateDeleted, q.State())
}

func TestRXQueueRejectsSkippingStates(t *testing.T) {
	q := NewRXQueue(0, nil, nil, nil, 4)
	err := q.Activate()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLinearizeBufferIsSingleUsePerQuantum(t *testing.T) {
	q := NewRXQueue(0, nil, nil, nil, 4)

	buf, ok := q.AcquireLinearizeBuffer(256)
	require.True(t, ok)
	assert.Len(t, buf, 256)

	_, ok = q.AcquireLinearizeBuffer(64)
	assert.False(t, ok, "a frame still holding the buffer must be refused")

	q.ReleaseLinearizeBuffer()

	buf2, ok := q.AcquireLinearizeBuffer(64)
	require.True(t, ok)
	assert.Len(t, buf2, 64)
}

func TestLinearizeBufferGrowsByDoubling(t *testing.T) {
	q := NewRXQueue(0, nil, nil, nil, 4)

	buf, ok := q.AcquireLinearizeBuffer(100)
	require.True(t, ok)
	assert.GreaterOrEqual(t, cap(buf), 100)
	firstCap := cap(buf)
	q.ReleaseLinearizeBuffer()

	buf2, ok := q.AcquireLinearizeBuffer(firstCap + 1)
	require.True(t, ok)
	assert.GreaterOrEqual(t, cap(buf2), firstCap+1)
	q.ReleaseLinearizeBuffer()
}

func TestTXQueueDeleteRejectedWithOutstandingFrames(t *testing.T) {
	q := NewTXQueue(0, nil, nil, nil, 4)
	require.NoError(t, q.Attach())
	require.NoError(t, q.Activate())
	require.NoError(t, q.Start())
	require.NoError(t, q.Pause())

	q.IncOutstanding()
	err := q.Delete()
	assert.Error(t, err)
	assert.Equal(t, 1, q.Outstanding())

	q.DecOutstanding()
	require.NoError(t, q.Delete())
}
