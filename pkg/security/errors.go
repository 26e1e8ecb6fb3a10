package security

import "errors"

var (
	// ErrDecrypt is returned when a frame fails authentication.
	ErrDecrypt = errors.New("security: frame authentication failed")

	// ErrFrameTooLarge is returned for a frame length above MaxFramePlaintext.
	ErrFrameTooLarge = errors.New("security: frame too large")

	// ErrNonceExhausted is returned when a direction's nonce counter wraps.
	ErrNonceExhausted = errors.New("security: nonce counter exhausted")

	// ErrNotSupported is returned by pairing operations a provider does not implement.
	ErrNotSupported = errors.New("security: operation not supported")

	// ErrInvalidRequest is returned for a malformed pairing request.
	ErrInvalidRequest = errors.New("security: invalid pairing request")

	// ErrAuthentication is returned when a pairing request fails verification.
	ErrAuthentication = errors.New("security: authentication failed")
)
