package proto

import (
	"errors"
	"syscall"
)

type Error uint32

const (
	ok Error = iota
	ErrAccessDenied
	ErrUnknownCommand
	ErrInvalidArgument
	ErrEntityExists
	ErrNoSuchEntity
	ErrConnectionRefused
	ErrProtocolError
	ErrTimeout
	ErrNoAuthenticationKey
	ErrInternalError
	ErrConnectionTerminated
	ErrEntityKilled
	ErrInvalidServer
	ErrModuleInitializationFailed
	ErrBadState
	ErrNoData
	ErrIncompatibleProtocolVersion
	ErrTooLarge
	ErrNotSupported
	ErrUnknownErrorCode
	ErrNoSuchExtension
	ErrObsoleteFunctionality
	ErrMissingImplementation
	ErrClientForked
	ErrInputOutputError
	ErrDeviceOrResourceBusy
)

func (e Error) Error() string {
	switch e {
	case ok:
		return "pulseaudio: ok"
	case ErrAccessDenied:
		return "pulseaudio: access denied"
	case ErrUnknownCommand:
		return "pulseaudio: unknown command"
	case ErrInvalidArgument:
		return "pulseaudio: invalid argument"
	case ErrEntityExists:
		return "pulseaudio: entity exists"
	case ErrNoSuchEntity:
		return "pulseaudio: no such entity"
	case ErrConnectionRefused:
		return "pulseaudio: connection refused"
	case ErrProtocolError:
		return "pulseaudio: protocol error"
	case ErrTimeout:
		return "pulseaudio: timeout"
	case ErrNoAuthenticationKey:
		return "pulseaudio: no authentication key"
	case ErrInternalError:
		return "pulseaudio: internal error"
	case ErrConnectionTerminated:
		return "pulseaudio: connection terminated"
	case ErrEntityKilled:
		return "pulseaudio: entity killed"
	case ErrInvalidServer:
		return "pulseaudio: invalid server"
	case ErrModuleInitializationFailed:
		return "pulseaudio: module initialization failed"
	case ErrBadState:
		return "pulseaudio: bad state"
	case ErrNoData:
		return "pulseaudio: no data"
	case ErrIncompatibleProtocolVersion:
		return "pulseaudio: incompatible protocol version"
	case ErrTooLarge:
		return "pulseaudio: too large"
	case ErrNotSupported:
		return "pulseaudio: not supported"
	case ErrUnknownErrorCode:
		return "pulseaudio: unknown error code"
	case ErrNoSuchExtension:
		return "pulseaudio: no such extension"
	case ErrObsoleteFunctionality:
		return "pulseaudio: obsolete functionality"
	case ErrMissingImplementation:
		return "pulseaudio: missing implementation"
	case ErrClientForked:
		return "pulseaudio: client forked"
	case ErrInputOutputError:
		return "pulseaudio: input/output error"
	case ErrDeviceOrResourceBusy:
		return "pulseaudio: device or resource busy"
	}
	return "pulseaudio: invalid error code"
}

// ErrorFromErrno maps a system error number to the wire error code.
// Several errnos collapse onto one code.
func ErrorFromErrno(e syscall.Errno) Error {
	switch e {
	case 0:
		return ok
	case syscall.EACCES, syscall.EPERM:
		return ErrAccessDenied
	case syscall.ENOTTY:
		return ErrUnknownCommand
	case syscall.EINVAL:
		return ErrInvalidArgument
	case syscall.EEXIST:
		return ErrEntityExists
	case syscall.ENOENT, syscall.ESRCH, syscall.ENXIO, syscall.ENODEV:
		return ErrNoSuchEntity
	case syscall.ECONNREFUSED, syscall.ENONET, syscall.EHOSTDOWN, syscall.ENETDOWN:
		return ErrConnectionRefused
	case syscall.EPROTO, syscall.EBADMSG:
		return ErrProtocolError
	case syscall.ETIMEDOUT, syscall.ETIME:
		return ErrTimeout
	case syscall.ENOKEY:
		return ErrNoAuthenticationKey
	case syscall.ECONNRESET, syscall.EPIPE:
		return ErrConnectionTerminated
	case syscall.EBADFD:
		return ErrBadState
	case syscall.ENODATA:
		return ErrNoData
	case syscall.EOVERFLOW, syscall.E2BIG, syscall.EFBIG, syscall.ERANGE, syscall.ENAMETOOLONG:
		return ErrTooLarge
	case syscall.ENOTSUP, syscall.EPROTONOSUPPORT, syscall.ESOCKTNOSUPPORT:
		return ErrNotSupported
	case syscall.ENOSYS:
		return ErrMissingImplementation
	case syscall.EIO:
		return ErrInputOutputError
	case syscall.EBUSY:
		return ErrDeviceOrResourceBusy
	case syscall.ENFILE, syscall.EMFILE:
		return ErrInternalError
	}
	return ErrUnknownErrorCode
}

// Errno returns the canonical system error number of e.
func (e Error) Errno() syscall.Errno {
	switch e {
	case ok:
		return 0
	case ErrAccessDenied:
		return syscall.EACCES
	case ErrUnknownCommand:
		return syscall.ENOTTY
	case ErrInvalidArgument:
		return syscall.EINVAL
	case ErrEntityExists:
		return syscall.EEXIST
	case ErrNoSuchEntity:
		return syscall.ENOENT
	case ErrConnectionRefused:
		return syscall.ECONNREFUSED
	case ErrProtocolError:
		return syscall.EPROTO
	case ErrTimeout:
		return syscall.ETIMEDOUT
	case ErrNoAuthenticationKey:
		return syscall.ENOKEY
	case ErrInternalError:
		return syscall.EIO
	case ErrConnectionTerminated:
		return syscall.ECONNRESET
	case ErrEntityKilled:
		return syscall.ECANCELED
	case ErrInvalidServer:
		return syscall.EINVAL
	case ErrModuleInitializationFailed:
		return syscall.EIO
	case ErrBadState:
		return syscall.EBADFD
	case ErrNoData:
		return syscall.ENODATA
	case ErrIncompatibleProtocolVersion:
		return syscall.EPROTO
	case ErrTooLarge:
		return syscall.EOVERFLOW
	case ErrNotSupported:
		return syscall.ENOTSUP
	case ErrMissingImplementation:
		return syscall.ENOSYS
	case ErrInputOutputError:
		return syscall.EIO
	case ErrDeviceOrResourceBusy:
		return syscall.EBUSY
	}
	return syscall.EIO
}

// AsError converts any error to a wire error code. Errors wrapping a
// proto.Error or a syscall.Errno keep their meaning, everything else is
// reported as an internal error.
func AsError(err error) Error {
	if err == nil {
		return ok
	}
	var pe Error
	if errors.As(err, &pe) {
		return pe
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return ErrorFromErrno(errno)
	}
	return ErrInternalError
}
