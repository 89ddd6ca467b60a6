package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopRoundTrip(t *testing.T) {
	r := New(4)
	require.Equal(t, 4, r.Cap())

	err := r.Push(Descriptor{Addr: 0x1000, Len: 64})
	require.NoError(t, err)

	d, err := r.Pop()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), d.Addr)
	assert.Equal(t, uint32(64), d.Len)
}

func TestPopEmptyReturnsErrEmpty(t *testing.T) {
	r := New(4)
	_, err := r.Pop()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPushFullReturnsErrFull(t *testing.T) {
	r := New(2)
	require.NoError(t, r.Push(Descriptor{Addr: 1}))
	require.NoError(t, r.Push(Descriptor{Addr: 2}))
	err := r.Push(Descriptor{Addr: 3})
	assert.ErrorIs(t, err, ErrFull)
}

func TestCapacityRoundsToPowerOfTwo(t *testing.T) {
	r := New(5)
	assert.Equal(t, 8, r.Cap())
}

func TestNeedPokeFlag(t *testing.T) {
	r := New(4)
	assert.False(t, r.NeedsPoke())
	r.SetNeedPoke(true)
	assert.True(t, r.NeedsPoke())
	r.SetNeedPoke(false)
	assert.False(t, r.NeedsPoke())
}

func TestPendingTracksOutstandingDescriptors(t *testing.T) {
	r := New(8)
	assert.EqualValues(t, 0, r.Pending())
	require.NoError(t, r.Push(Descriptor{Addr: 1}))
	require.NoError(t, r.Push(Descriptor{Addr: 2}))
	assert.EqualValues(t, 2, r.Pending())
	_, err := r.Pop()
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.Pending())
}

func TestMmapRejectsNonPowerOfTwo(t *testing.T) {
	assert.Panics(t, func() {
		Mmap(make([]Descriptor, 3))
	})
}

func TestMmapWrapsProvidedSlice(t *testing.T) {
	backing := make([]Descriptor, 4)
	r := Mmap(backing)
	require.NoError(t, r.Push(Descriptor{Addr: 0xAA}))
	assert.Equal(t, uint64(0xAA), backing[0].Addr)
}
