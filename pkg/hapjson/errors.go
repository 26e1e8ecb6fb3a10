package hapjson

import "errors"

var (
	// ErrMalformed is returned for bodies that are not valid JSON of the
	// expected shape.
	ErrMalformed = errors.New("hapjson: malformed body")

	// ErrInvalidID is returned for an "aid.iid" pair that does not parse.
	ErrInvalidID = errors.New("hapjson: invalid characteristic id")

	// ErrMissingField is returned when a required member is absent.
	ErrMissingField = errors.New("hapjson: missing field")
)
