package discovery

import "errors"

// Package-level sentinel errors for discovery operations.
var (
	// ErrClosed is returned when an operation is attempted on a closed component.
	ErrClosed = errors.New("discovery: closed")

	// ErrNotStarted is returned when withdrawing a service that was not advertised.
	ErrNotStarted = errors.New("discovery: not started")

	// ErrInvalidDeviceID is returned when the device ID is not six colon
	// separated hex octets.
	ErrInvalidDeviceID = errors.New("discovery: invalid device ID")

	// ErrInvalidName is returned for an empty or oversized instance name.
	ErrInvalidName = errors.New("discovery: invalid instance name")

	// ErrInvalidPort is returned when the port number is out of range.
	ErrInvalidPort = errors.New("discovery: invalid port (must be 1-65535)")

	// ErrInvalidConfigNumber is returned when the configuration number is
	// outside 1-65535.
	ErrInvalidConfigNumber = errors.New("discovery: invalid configuration number")

	// ErrInvalidTXTRecord is returned when a TXT record has invalid format.
	ErrInvalidTXTRecord = errors.New("discovery: invalid TXT record format")

	// ErrServiceNotFound is returned when a requested service is not found.
	ErrServiceNotFound = errors.New("discovery: service not found")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("discovery: operation timed out")
)
