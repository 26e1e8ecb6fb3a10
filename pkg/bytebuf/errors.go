package bytebuf

import "errors"

// Buffer errors.
var (
	// ErrOverflow is returned when appended data does not fit before limit.
	ErrOverflow = errors.New("bytebuf: not enough space")

	// ErrOutOfResources is returned when an allocator cannot provide more space.
	ErrOutOfResources = errors.New("bytebuf: out of resources")
)
