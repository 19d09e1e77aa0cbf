package server

import (
	"errors"
	"fmt"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/internal/module"
	"github.com/jfreymuth/pulsed/internal/stream"
	"github.com/jfreymuth/pulsed/proto"
)

// errDeferred is returned by handlers that send their reply later.
var errDeferred = errors.New("reply deferred")

// OpError is a socket level failure of a listener.
type OpError struct {
	Op   string
	Addr string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// wireError converts the error of a handler into the code sent to the
// client.
func wireError(err error) proto.Error {
	var e proto.Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, graph.ErrNoEntity), errors.Is(err, manager.ErrNoEntity):
		return proto.ErrNoSuchEntity
	case errors.Is(err, manager.ErrAccess):
		return proto.ErrAccessDenied
	case errors.Is(err, graph.ErrNotSupported), errors.Is(err, manager.ErrNotSupported):
		return proto.ErrNotSupported
	case errors.Is(err, graph.ErrInvalidParam), errors.Is(err, stream.ErrInvalidFormat):
		return proto.ErrInvalidArgument
	case errors.Is(err, graph.ErrDisconnected):
		return proto.ErrConnectionTerminated
	case errors.Is(err, module.ErrUnknownModule), errors.Is(err, module.ErrLoaded):
		return proto.ErrModuleInitializationFailed
	case errors.Is(err, module.ErrInvalidArgs):
		return proto.ErrInvalidArgument
	}
	return proto.AsError(err)
}
