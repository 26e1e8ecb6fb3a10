package httpreader

import (
	"bytes"

	"github.com/backkem/hap/pkg/bytebuf"
)

// MaxContentLength bounds the Content-Length a request may declare.
const MaxContentLength = bytebuf.DefaultMaxCapacity

// Span locates a token within the caller's buffer by offset. Offsets stay
// valid if the buffer is reallocated, as long as bytes before Position are
// not moved.
type Span struct {
	Start int
	Len   int
}

// End returns the offset just past the span.
func (s Span) End() int { return s.Start + s.Len }

// Bytes returns the span within data.
func (s Span) Bytes(data []byte) []byte { return data[s.Start:s.End()] }

var (
	headerContentLength = []byte("Content-Length")
	headerContentType   = []byte("Content-Type")

	contentTypes = []struct {
		prefix []byte
		typ    ContentType
	}{
		{[]byte("application/hap+json"), ContentTypeHAPJSON},
		{[]byte("application/octet-stream"), ContentTypeOctetStream},
		{[]byte("application/pairing+tlv8"), ContentTypePairingTLV8},
	}
)

// Request incrementally parses one request out of a buffer that grows
// between calls. The buffer passed to Parse must always start at the first
// byte of the request.
type Request struct {
	reader Reader

	// Position is the number of bytes consumed by the head so far.
	Position int

	Method      Span
	URI         Span
	HeaderName  Span
	HeaderValue Span

	// ContentLength is 0 when the header is absent.
	ContentLength    int
	HasContentLength bool
	ContentType      ContentType

	// Err is set when Parse returns StatusError.
	Err error

	methodOpen    bool
	uriOpen       bool
	nameOpen      bool
	valueSeen     bool
	headerPending bool
}

// Reset prepares the parser for the next request.
func (p *Request) Reset() {
	*p = Request{}
}

// State returns the underlying reader state.
func (p *Request) State() State { return p.reader.State() }

// HeadComplete reports whether the request head has been fully parsed.
func (p *Request) HeadComplete() bool { return p.reader.State() == StateDone }

// Len returns the total request length (head plus body). Only meaningful once
// the head is complete.
func (p *Request) Len() int { return p.Position + p.ContentLength }

// Body returns the request body within data. Only meaningful once Parse
// returned StatusComplete.
func (p *Request) Body(data []byte) []byte {
	return data[p.Position:p.Len()]
}

// Parse continues parsing data, which holds every byte of the request received
// so far. A body shorter than Content-Length yields StatusIncomplete; only a
// malformed head yields StatusError.
func (p *Request) Parse(data []byte) Status {
	for p.Position < len(data) && p.reader.State() != StateDone && p.reader.State() != StateError {
		base := p.Position
		n, tok := p.reader.Read(data[base:])
		p.Position += n
		if tok.Valid {
			p.collect(data, Span{Start: base + tok.Start, Len: tok.Len})
		}
		switch p.reader.State() {
		case StateCompletedMethod:
			p.methodOpen = false
		case StateCompletedURI:
			p.uriOpen = false
		case StateCompletedHeaderName:
			p.nameOpen = false
			p.headerPending = true
		}
	}

	switch p.reader.State() {
	case StateError:
		if p.Err == nil {
			p.Err = ErrMalformed
		}
		return StatusError
	case StateDone:
		if p.headerPending {
			p.headerPending = false
			if err := p.processHeader(data); err != nil {
				return p.fail(err)
			}
		}
		if p.ContentLength > len(data)-p.Position {
			return StatusIncomplete
		}
		return StatusComplete
	default:
		return StatusIncomplete
	}
}

// collect attaches a token to the field the reader is currently producing.
// Pieces of one token arrive back to back, so a piece continues the previous
// one when it starts where that one ended.
func (p *Request) collect(data []byte, s Span) {
	switch p.reader.State() {
	case StateReadingMethod, StateCompletedMethod:
		p.Method, p.methodOpen = join(p.Method, s, p.methodOpen), true
	case StateReadingURI, StateCompletedURI:
		p.URI, p.uriOpen = join(p.URI, s, p.uriOpen), true
	case StateReadingHeaderName, StateCompletedHeaderName:
		if !p.nameOpen && p.headerPending {
			p.headerPending = false
			if err := p.processHeader(data); err != nil {
				p.fail(err)
				return
			}
		}
		if !p.nameOpen {
			p.HeaderValue = Span{}
			p.valueSeen = false
		}
		p.HeaderName, p.nameOpen = join(p.HeaderName, s, p.nameOpen), true
	case StateReadingHeaderValue, StateCompletedHeaderValue:
		if !p.valueSeen {
			p.HeaderValue = s
			p.valueSeen = true
		} else {
			// Continuation pieces and folded lines extend the value.
			p.HeaderValue.Len = s.End() - p.HeaderValue.Start
		}
	}
}

func join(prev, next Span, open bool) Span {
	if open && prev.End() == next.Start {
		prev.Len += next.Len
		return prev
	}
	return next
}

func (p *Request) fail(err error) Status {
	p.Err = err
	p.reader.state = StateError
	return StatusError
}

// processHeader interprets the header that just finished.
func (p *Request) processHeader(data []byte) error {
	name := p.HeaderName.Bytes(data)
	value := bytes.Trim(p.HeaderValue.Bytes(data), " \t\r\n")
	switch {
	case bytes.EqualFold(name, headerContentLength):
		n, err := parseContentLength(value)
		if err != nil {
			return err
		}
		p.ContentLength = n
		p.HasContentLength = true
	case bytes.EqualFold(name, headerContentType):
		p.ContentType = ContentTypeUnknown
		for _, ct := range contentTypes {
			if bytes.HasPrefix(value, ct.prefix) {
				p.ContentType = ct.typ
				break
			}
		}
	}
	return nil
}

func parseContentLength(value []byte) (int, error) {
	if len(value) == 0 {
		return 0, ErrContentLength
	}
	n := 0
	for _, c := range value {
		if c < '0' || c > '9' {
			return 0, ErrContentLength
		}
		n = n*10 + int(c-'0')
		if n > MaxContentLength {
			return 0, ErrContentLength
		}
	}
	return n, nil
}
