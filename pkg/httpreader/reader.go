// Package httpreader implements a resumable HTTP/1.1 request-head tokenizer.
//
// Reader consumes bytes in arbitrarily small slices and reports at most one
// token (method, URI, version, header name or header value) per call. A token
// may be split across calls when the input ends mid-token; the caller joins
// the pieces. Request builds on Reader and tracks the tokens a server needs,
// including Content-Length and Content-Type.
package httpreader

const (
	cr = '\r'
	lf = '\n'
	sp = ' '
	ht = '\t'
)

type substate uint8

const (
	substateNone substate = iota
	substateReading
	substateAfterCR
	substateAfterLF
	substateAfterSP
)

// Token locates bytes of the slice most recently passed to Reader.Read.
type Token struct {
	Start int
	Len   int
	Valid bool
}

// End returns the offset just past the token.
func (t Token) End() int { return t.Start + t.Len }

// Reader is the request-head state machine. The zero value is ready for use.
type Reader struct {
	state        State
	sub          substate
	quotedPair   bool
	quotedString bool
}

// Reset prepares the reader for a new request.
func (r *Reader) Reset() {
	*r = Reader{}
}

// State returns the current state.
func (r *Reader) State() State { return r.state }

// Read advances the state machine over buf. It returns the number of bytes
// consumed and the token read during this call, if any. Read stops after a
// Completed state so each call yields at most one token.
func (r *Reader) Read(buf []byte) (int, Token) {
	var tok Token
	n := 0
	length := len(buf)
	if n < length {
		for {
			switch r.state {
			case StateExpectingMethod:
				if r.sub == substateNone {
					n += skipWhitespace(buf[n:])
					if n < length {
						switch buf[n] {
						case cr:
							n++
							r.sub = substateAfterCR
						case lf:
							n++
						default:
							r.state = StateReadingMethod
						}
					}
				} else {
					if buf[n] == lf {
						n++
						r.sub = substateNone
					} else {
						r.state = StateError
					}
				}

			case StateReadingMethod:
				n += r.readToken(buf, n, isTokenChar, StateCompletedMethod, &tok)

			case StateCompletedMethod:
				r.state = StateExpectingURI

			case StateExpectingURI:
				n += r.expectSeparator(buf[n:], StateReadingURI)

			case StateReadingURI:
				n += r.readToken(buf, n, isURIChar, StateCompletedURI, &tok)

			case StateCompletedURI:
				r.state = StateExpectingVersion

			case StateExpectingVersion:
				n += r.expectSeparator(buf[n:], StateReadingVersion)

			case StateReadingVersion:
				n += r.readToken(buf, n, isVersionChar, StateCompletedVersion, &tok)

			case StateCompletedVersion:
				r.state = StateExpectingHeaderName

			case StateExpectingHeaderName:
				if r.sub == substateNone {
					switch buf[n] {
					case cr:
						n++
						r.sub = substateAfterCR
					case lf:
						n++
						r.state = StateReadingHeaderName
					default:
						r.state = StateError
					}
				} else {
					if buf[n] == lf {
						n++
						r.state = StateReadingHeaderName
						r.sub = substateNone
					} else {
						r.state = StateError
					}
				}

			case StateReadingHeaderName:
				if r.sub == substateNone && !isTokenChar(buf[n]) {
					r.state = StateEndingHeaderLines
				} else {
					n += r.readToken(buf, n, isTokenChar, StateCompletedHeaderName, &tok)
				}

			case StateCompletedHeaderName:
				r.state = StateExpectingHeaderValue

			case StateExpectingHeaderValue:
				if buf[n] == ':' {
					n++
					r.state = StateReadingHeaderValue
				} else {
					r.state = StateError
				}

			case StateReadingHeaderValue:
				m := r.readQuoted(buf[n:])
				tok = Token{Start: n, Len: m, Valid: true}
				n += m
				if n < length {
					r.state = StateCompletedHeaderValue
				}

			case StateCompletedHeaderValue:
				r.state = StateEndingHeaderLine

			case StateEndingHeaderLine:
				switch r.sub {
				case substateNone:
					switch buf[n] {
					case cr:
						n++
						r.sub = substateAfterCR
					case lf:
						n++
						r.sub = substateAfterLF
					default:
						r.state = StateError
					}
				case substateAfterCR:
					if buf[n] == lf {
						n++
						r.sub = substateAfterLF
					} else {
						r.state = StateError
					}
				default:
					// Continuation lines start with whitespace.
					if isWhitespace(buf[n]) {
						r.state = StateReadingHeaderValue
						r.sub = substateNone
					} else if r.quotedString {
						r.state = StateError
					} else {
						r.state = StateReadingHeaderName
						r.sub = substateNone
					}
				}

			case StateEndingHeaderLines:
				if r.sub == substateNone {
					switch buf[n] {
					case cr:
						n++
						r.sub = substateAfterCR
					case lf:
						n++
						r.state = StateDone
					default:
						r.state = StateError
					}
				} else {
					if buf[n] == lf {
						n++
						r.state = StateDone
						r.sub = substateNone
					} else {
						r.state = StateError
					}
				}

			case StateDone, StateError:

			default:
				panic("httpreader: unknown state")
			}

			if n >= length || r.state.stopsRead() {
				break
			}
		}
	}
	if n < length && !r.state.stopsRead() {
		panic("httpreader: read stopped early")
	}
	return n, tok
}

// expectSeparator handles the whitespace run between request-line tokens.
func (r *Reader) expectSeparator(buf []byte, next State) int {
	n := 0
	if r.sub == substateNone {
		if isWhitespace(buf[0]) {
			n++
			r.sub = substateAfterSP
		} else {
			r.state = StateError
		}
		return n
	}
	n += skipWhitespace(buf)
	if n < len(buf) {
		r.state = next
		r.sub = substateNone
	}
	return n
}

// readToken reads a run of bytes matching pred starting at buf[at].
func (r *Reader) readToken(buf []byte, at int, pred func(byte) bool, completed State, tok *Token) int {
	if r.sub == substateNone {
		if pred(buf[at]) {
			r.sub = substateReading
		} else {
			r.state = StateError
		}
		return 0
	}
	m := 0
	for at+m < len(buf) && pred(buf[at+m]) {
		m++
	}
	*tok = Token{Start: at, Len: m, Valid: true}
	if at+m < len(buf) {
		r.state = completed
		r.sub = substateNone
	}
	return m
}

// readQuoted reads header value text, tracking quoted-string and quoted-pair
// so that escaped bytes inside quotes are accepted.
func (r *Reader) readQuoted(buf []byte) int {
	n := 0
	for n < len(buf) && (r.quotedPair || isTextChar(buf[n])) {
		c := buf[n]
		switch {
		case r.quotedPair:
			r.quotedPair = false
		case r.quotedString:
			if c == '\\' {
				r.quotedPair = true
			} else if c == '"' {
				r.quotedString = false
			}
		case c == '"':
			r.quotedString = true
		}
		n++
	}
	return n
}

func skipWhitespace(buf []byte) int {
	n := 0
	for n < len(buf) && isWhitespace(buf[n]) {
		n++
	}
	return n
}

func isWhitespace(c byte) bool { return c == sp || c == ht }

func isTokenChar(c byte) bool {
	if c < 33 || c >= 127 {
		return false
	}
	switch c {
	case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"', '/', '[', ']', '?', '=', '{', '}':
		return false
	}
	return true
}

func isURIChar(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '%', '-', '.', '_', '~', ':', '/', '?', '#', '[', ']', '@', '!', '$', '&',
		'\'', '(', ')', '*', '+', ',', ';', '=':
		return true
	}
	return false
}

func isVersionChar(c byte) bool {
	return c == 'H' || c == 'T' || c == 'P' || c == '/' || c == '.' || ('0' <= c && c <= '9')
}

func isTextChar(c byte) bool {
	return (32 <= c && c < 127) || c >= 128 || c == ht
}
