package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFramePoolGetAllocatesUpToCapacity(t *testing.T) {
	p := NewFramePool(2)

	h1, ok := p.Get()
	assert.True(t, ok)
	assert.NotNil(t, h1)

	h2, ok := p.Get()
	assert.True(t, ok)
	assert.NotNil(t, h2)

	_, ok = p.Get()
	assert.False(t, ok, "pool is at capacity with nothing free")
	assert.Equal(t, 2, p.Live())
}

func TestFramePoolPutReturnsHandleForReuse(t *testing.T) {
	p := NewFramePool(1)

	h, ok := p.Get()
	assert.True(t, ok)
	h.Addr = 0xdead
	h.Len = 64

	p.Put(h)
	assert.Equal(t, 0, p.Live())

	reused, ok := p.Get()
	assert.True(t, ok)
	assert.Same(t, h, reused)
	assert.Equal(t, uint64(0), reused.Addr, "Put resets the handle before reuse")
}

func TestFramePoolCap(t *testing.T) {
	p := NewFramePool(256)
	assert.Equal(t, 256, p.Cap())
}
