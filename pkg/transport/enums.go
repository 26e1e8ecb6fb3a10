package transport

import "strings"

// Interests is the set of readiness conditions a stream owner wants to be
// told about.
type Interests uint8

const (
	// InterestReadable requests EventReadable when data or end of stream is
	// available.
	InterestReadable Interests = 1 << iota
	// InterestWritable requests EventWritable when the stream accepts more
	// output.
	InterestWritable
)

// InterestNone disables readiness notifications.
const InterestNone Interests = 0

// String returns the string representation of the interest set.
func (i Interests) String() string {
	if i == InterestNone {
		return "none"
	}
	var parts []string
	if i&InterestReadable != 0 {
		parts = append(parts, "readable")
	}
	if i&InterestWritable != 0 {
		parts = append(parts, "writable")
	}
	return strings.Join(parts, "|")
}

// Event is a readiness notification delivered to a Dispatcher.
type Event int

const (
	// EventReadable means Read will not return ErrWouldBlock.
	EventReadable Event = iota + 1
	// EventWritable means Write will accept at least one byte.
	EventWritable
)

// String returns the string representation of the event.
func (e Event) String() string {
	switch e {
	case EventReadable:
		return "readable"
	case EventWritable:
		return "writable"
	default:
		return "unknown"
	}
}
