package httpreader

// State is the position of the Reader within a request head.
type State uint8

const (
	StateExpectingMethod State = iota
	StateReadingMethod
	StateCompletedMethod
	StateExpectingURI
	StateReadingURI
	StateCompletedURI
	StateExpectingVersion
	StateReadingVersion
	StateCompletedVersion
	StateExpectingHeaderName
	StateReadingHeaderName
	StateCompletedHeaderName
	StateExpectingHeaderValue
	StateReadingHeaderValue
	StateCompletedHeaderValue
	StateEndingHeaderLine
	StateEndingHeaderLines
	StateDone
	StateError
)

var stateNames = [...]string{
	StateExpectingMethod:      "ExpectingMethod",
	StateReadingMethod:        "ReadingMethod",
	StateCompletedMethod:      "CompletedMethod",
	StateExpectingURI:         "ExpectingURI",
	StateReadingURI:           "ReadingURI",
	StateCompletedURI:         "CompletedURI",
	StateExpectingVersion:     "ExpectingVersion",
	StateReadingVersion:       "ReadingVersion",
	StateCompletedVersion:     "CompletedVersion",
	StateExpectingHeaderName:  "ExpectingHeaderName",
	StateReadingHeaderName:    "ReadingHeaderName",
	StateCompletedHeaderName:  "CompletedHeaderName",
	StateExpectingHeaderValue: "ExpectingHeaderValue",
	StateReadingHeaderValue:   "ReadingHeaderValue",
	StateCompletedHeaderValue: "CompletedHeaderValue",
	StateEndingHeaderLine:     "EndingHeaderLine",
	StateEndingHeaderLines:    "EndingHeaderLines",
	StateDone:                 "Done",
	StateError:                "Error",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// stopsRead reports whether Read returns to the caller in this state.
func (s State) stopsRead() bool {
	switch s {
	case StateCompletedMethod, StateCompletedURI, StateCompletedVersion,
		StateCompletedHeaderName, StateCompletedHeaderValue, StateDone, StateError:
		return true
	}
	return false
}

// ContentType is the recognized subset of Content-Type header values.
type ContentType uint8

const (
	// ContentTypeNone means no Content-Type header was present.
	ContentTypeNone ContentType = iota
	ContentTypeHAPJSON
	ContentTypeOctetStream
	ContentTypePairingTLV8
	ContentTypeUnknown
)

// String returns the MIME type.
func (c ContentType) String() string {
	switch c {
	case ContentTypeNone:
		return ""
	case ContentTypeHAPJSON:
		return "application/hap+json"
	case ContentTypeOctetStream:
		return "application/octet-stream"
	case ContentTypePairingTLV8:
		return "application/pairing+tlv8"
	default:
		return "unknown"
	}
}

// Status is the outcome of Request.Parse.
type Status uint8

const (
	// StatusIncomplete means more bytes are needed.
	StatusIncomplete Status = iota
	// StatusComplete means the head and the full body are buffered.
	StatusComplete
	// StatusError means the request is malformed and the connection should close.
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusIncomplete:
		return "Incomplete"
	case StatusComplete:
		return "Complete"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}
