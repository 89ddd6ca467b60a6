package xdpgeneric

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredError(t *testing.T) {
	err := NewError("ATTACH_FILTER", ErrCodeInvalidParameter, "invalid queue count")

	assert.Equal(t, "ATTACH_FILTER", err.Op)
	assert.Equal(t, ErrCodeInvalidParameter, err.Code)
	assert.Equal(t, "xdpgeneric: invalid queue count (op=ATTACH_FILTER)", err.Error())
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("RX_POLL", ErrCodeNoResources, syscall.ENOMEM)

	assert.Equal(t, syscall.ENOMEM, err.Errno)
	assert.Equal(t, ErrCodeNoResources, err.Code)
}

func TestQueueError(t *testing.T) {
	err := NewQueueError("RX_POLL", 3, ErrCodeIOError, "queue stalled")

	assert.Equal(t, 3, err.Queue)
	assert.Equal(t, "xdpgeneric: queue stalled (op=RX_POLL, queue=3)", err.Error())
}

func TestWrapErrorMapsErrno(t *testing.T) {
	err := WrapError("DETACH_FILTER", syscall.ENODEV)

	assert.Equal(t, ErrCodeDeviceNotReady, err.Code)
	assert.Equal(t, syscall.ENODEV, err.Errno)
	assert.True(t, errors.Is(err, syscall.ENODEV))
}

func TestWrapErrorPreservesExistingCode(t *testing.T) {
	inner := NewError("RX_POLL", ErrCodeTimeout, "deadline exceeded")
	err := WrapError("ATTACH_FILTER", inner)

	assert.Equal(t, ErrCodeTimeout, err.Code)
	assert.Equal(t, inner, err.Inner)
}

func TestWrapErrorNil(t *testing.T) {
	assert.Nil(t, WrapError("ATTACH_FILTER", nil))
}

func TestIsCode(t *testing.T) {
	err := NewError("RX_POLL", ErrCodeTimeout, "operation timed out")

	assert.True(t, IsCode(err, ErrCodeTimeout))
	assert.False(t, IsCode(err, ErrCodeIOError))
	assert.False(t, IsCode(nil, ErrCodeTimeout))
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("RX_POLL", ErrCodeIOError, syscall.EIO)

	assert.True(t, IsErrno(err, syscall.EIO))
	assert.False(t, IsErrno(err, syscall.EPERM))
	assert.False(t, IsErrno(nil, syscall.EIO))
}

func TestErrorIsComparesByCode(t *testing.T) {
	a := &Error{Code: ErrCodeTimeout}
	b := &Error{Op: "OTHER_OP", Code: ErrCodeTimeout}

	assert.True(t, errors.Is(a, b))
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.EINVAL, ErrCodeInvalidParameter},
		{syscall.E2BIG, ErrCodeInvalidParameter},
		{syscall.ENOSYS, ErrCodeNotSupported},
		{syscall.EOPNOTSUPP, ErrCodeNotSupported},
		{syscall.ETIMEDOUT, ErrCodeTimeout},
		{syscall.EAGAIN, ErrCodeTimeout},
		{syscall.EBUSY, ErrCodeSharingViolation},
		{syscall.EADDRINUSE, ErrCodeSharingViolation},
		{syscall.ENOMEM, ErrCodeNoResources},
		{syscall.ENOSPC, ErrCodeNoResources},
		{syscall.ENODEV, ErrCodeDeviceNotReady},
		{syscall.ENXIO, ErrCodeDeviceNotReady},
		{syscall.EIO, ErrCodeIOError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, mapErrnoToCode(tc.errno), "errno %v", tc.errno)
	}
}
