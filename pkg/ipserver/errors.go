package ipserver

import "errors"

// Configuration errors.
var (
	ErrDatabaseRequired = errors.New("ipserver: accessory database is required")
	ErrProviderRequired = errors.New("ipserver: security provider is required")
	ErrListenRequired   = errors.New("ipserver: listen function is required")
	ErrInvalidConfig    = errors.New("ipserver: invalid configuration")
)

// Operational errors.
var (
	// ErrNotIdle is returned by Start when the server is not idle.
	ErrNotIdle = errors.New("ipserver: server is not idle")

	// ErrNotRunning is returned by operations that need a running server.
	ErrNotRunning = errors.New("ipserver: server is not running")

	// ErrAlreadyInWACMode is returned by EnterWACMode while in (or entering)
	// Wi-Fi configuration mode.
	ErrAlreadyInWACMode = errors.New("ipserver: already in WAC mode")

	// ErrWACUnsupported is returned by EnterWACMode without a WACProvider.
	ErrWACUnsupported = errors.New("ipserver: no WAC provider configured")

	// ErrUnknownCharacteristic is returned when raising an event on a
	// characteristic that does not exist or does not support events.
	ErrUnknownCharacteristic = errors.New("ipserver: unknown event characteristic")

	// ErrUnknownSession is returned for a session ID that does not resolve.
	ErrUnknownSession = errors.New("ipserver: unknown session")

	// ErrFatal marks resource exhaustion the server cannot recover from: a
	// fixed-capacity buffer cannot hold what must be written.
	ErrFatal = errors.New("ipserver: fatal resource exhaustion")
)
