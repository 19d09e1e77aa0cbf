package proto

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFromErrno(t *testing.T) {
	tests := []struct {
		errno syscall.Errno
		want  Error
	}{
		{syscall.EACCES, ErrAccessDenied},
		{syscall.EPERM, ErrAccessDenied},
		{syscall.EINVAL, ErrInvalidArgument},
		{syscall.ENOENT, ErrNoSuchEntity},
		{syscall.ENODEV, ErrNoSuchEntity},
		{syscall.EPROTO, ErrProtocolError},
		{syscall.EPIPE, ErrConnectionTerminated},
		{syscall.ENOTSUP, ErrNotSupported},
		{syscall.EBUSY, ErrDeviceOrResourceBusy},
		{syscall.E2BIG, ErrTooLarge},
		{syscall.EXDEV, ErrUnknownErrorCode},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorFromErrno(tt.errno), tt.errno.Error())
	}
}

func TestErrnoRoundTrip(t *testing.T) {
	for _, e := range []Error{ErrAccessDenied, ErrInvalidArgument, ErrEntityExists, ErrNoSuchEntity, ErrProtocolError, ErrNotSupported} {
		assert.Equal(t, e, ErrorFromErrno(e.Errno()), e.Error())
	}
}

func TestAsError(t *testing.T) {
	assert.Equal(t, ok, AsError(nil))
	assert.Equal(t, ErrNoSuchEntity, AsError(fmt.Errorf("sink: %w", ErrNoSuchEntity)))
	assert.Equal(t, ErrAccessDenied, AsError(fmt.Errorf("open: %w", syscall.EACCES)))
	assert.Equal(t, ErrInternalError, AsError(errors.New("boom")))
}
