package httpreader

import "errors"

var (
	// ErrMalformed is returned when the request head violates HTTP syntax.
	ErrMalformed = errors.New("httpreader: malformed request")

	// ErrContentLength is returned for a non-decimal Content-Length or one
	// above MaxContentLength.
	ErrContentLength = errors.New("httpreader: invalid content length")
)
