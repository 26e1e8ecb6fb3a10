package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed
	// stream or listener.
	ErrClosed = errors.New("transport: closed")

	// ErrWouldBlock is returned by non-blocking operations that cannot make
	// progress yet. Wait for the matching readiness event and retry.
	ErrWouldBlock = errors.New("transport: operation would block")

	// ErrOutputClosed is returned by Write after CloseOutput.
	ErrOutputClosed = errors.New("transport: output closed")

	// ErrNoDispatcher is returned when a listener is started without a
	// dispatcher.
	ErrNoDispatcher = errors.New("transport: no dispatcher configured")

	// ErrAlreadyStarted is returned when Start is called on a running
	// listener.
	ErrAlreadyStarted = errors.New("transport: already started")
)
