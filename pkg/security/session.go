// Package security defines the pairing and encryption contract of the
// accessory server and provides the HAP control channel frame cipher.
//
// A Provider creates one Session per accepted connection. The Session
// answers pair-setup, pair-verify and pairings requests, and once pair-verify
// completes it exposes the Cipher that protects all further traffic.
package security

import "context"

// Session is the pairing state of one connection. Its methods are called
// from the server's event loop only.
type Session interface {
	// PairSetup processes a pair-setup request body and returns the
	// response body.
	PairSetup(ctx context.Context, req []byte) ([]byte, error)

	// PairVerify processes a pair-verify request body and returns the
	// response body. When the exchange completes, IsSecured becomes true.
	PairVerify(ctx context.Context, req []byte) ([]byte, error)

	// Pairings processes an add, remove or list pairings request.
	Pairings(ctx context.Context, req []byte) ([]byte, error)

	// IsSecured reports whether pair-verify has completed.
	IsSecured() bool

	// IsTransient reports whether the session was established by a
	// transient pair-setup and may only be used for setup.
	IsTransient() bool

	// IsAdmin reports whether the verified controller has admin permissions.
	IsAdmin() bool

	// KeyExpired reports whether the session keys must no longer be used.
	KeyExpired() bool

	// Cipher returns the control channel cipher, or nil while unsecured.
	Cipher() Cipher

	// Release discards all key material.
	Release()
}

// Provider creates sessions and holds accessory-wide pairing state.
type Provider interface {
	NewSession() (Session, error)

	// IsPaired reports whether at least one controller is paired.
	IsPaired() bool
}
