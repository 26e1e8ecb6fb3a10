// Package transport provides the non-blocking byte streams the accessory
// server runs on.
//
// A Stream never blocks: Read and Write return ErrWouldBlock when they cannot
// make progress, and the owner registers Interests to be told when to retry.
// Readiness is delivered to a single Dispatcher through an Executor, which in
// the server is the run loop, so all callbacks run on the loop goroutine.
//
// Notifications are level-triggered with respect to UpdateInterests: setting
// an interest whose condition already holds produces an event right away.
package transport

import "net"

// StreamID identifies a stream for the lifetime of its listener.
type StreamID uint64

// Stream is a non-blocking, connection-oriented byte stream.
type Stream interface {
	// ID returns the identity used in Dispatcher callbacks.
	ID() StreamID

	// Read copies buffered input into p. It returns io.EOF once the peer has
	// closed its output and all data has been read, and ErrWouldBlock when no
	// input is available yet.
	Read(p []byte) (int, error)

	// Write queues p for sending. It may accept a prefix of p; with no room at
	// all it returns 0 and ErrWouldBlock.
	Write(p []byte) (int, error)

	// CloseOutput half-closes the stream after queued output is sent.
	CloseOutput() error

	// Close releases the stream. No events are delivered afterwards.
	Close() error

	// UpdateInterests replaces the set of readiness conditions of interest.
	UpdateInterests(i Interests)

	// NonAcknowledgedByteCount returns the number of written bytes the peer
	// has not yet taken.
	NonAcknowledgedByteCount() int

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
}

// Listener accepts streams without blocking.
type Listener interface {
	// Start begins accepting. Readiness of the listener and of every stream
	// it accepts is delivered to d.
	Start(d Dispatcher) error

	// Accept returns the next pending stream, or ErrWouldBlock.
	Accept() (Stream, error)

	// Close stops accepting. Streams already accepted stay open.
	Close() error

	// Addr returns the listening address.
	Addr() net.Addr
}

// Dispatcher receives readiness notifications.
type Dispatcher interface {
	OnStreamReady(id StreamID, ev Event)
	OnAcceptable()
}

// Executor runs callbacks on the dispatcher's goroutine.
// *runloop.Loop satisfies it.
type Executor interface {
	Post(fn func())
}
