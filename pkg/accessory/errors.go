package accessory

import "errors"

// Errors returned by characteristic handlers. The server maps each of them to
// a wire status code; any other error is treated as ErrUnknown.
var (
	// ErrUnknown indicates the operation could not be performed.
	ErrUnknown = errors.New("accessory: unable to perform operation")

	// ErrInvalidState indicates the request cannot be processed in the current state.
	ErrInvalidState = errors.New("accessory: invalid state")

	// ErrInvalidData indicates the controller sent a malformed value.
	ErrInvalidData = errors.New("accessory: invalid data")

	// ErrOutOfResources indicates the accessory lacks resources to process the request.
	ErrOutOfResources = errors.New("accessory: out of resources")

	// ErrNotAuthorized indicates additional authorization data is insufficient.
	ErrNotAuthorized = errors.New("accessory: not authorized")

	// ErrBusy indicates the request failed temporarily.
	ErrBusy = errors.New("accessory: busy")
)

// Errors returned while building a database.
var (
	// ErrDuplicateAID indicates two accessories share an aid.
	ErrDuplicateAID = errors.New("accessory: duplicate accessory id")

	// ErrDuplicateIID indicates two services or characteristics share an iid.
	ErrDuplicateIID = errors.New("accessory: duplicate instance id")

	// ErrInvalidID indicates an aid or iid of zero.
	ErrInvalidID = errors.New("accessory: invalid id")

	// ErrMissingHandler indicates a readable or writable characteristic without its handler.
	ErrMissingHandler = errors.New("accessory: missing handler")

	// ErrInvalidFormat indicates an unknown characteristic format.
	ErrInvalidFormat = errors.New("accessory: invalid format")
)
