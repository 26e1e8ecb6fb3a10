package httpreader

import (
	"strings"
	"testing"

	"github.com/backkem/hap/pkg/bytebuf"
)

type parsed struct {
	method, uri   string
	contentLength int
	contentType   ContentType
	body          string
	length        int
}

func snapshot(p *Request, data []byte) parsed {
	return parsed{
		method:        string(p.Method.Bytes(data)),
		uri:           string(p.URI.Bytes(data)),
		contentLength: p.ContentLength,
		contentType:   p.ContentType,
		body:          string(p.Body(data)),
		length:        p.Len(),
	}
}

// parseChunked feeds msg to a fresh parser step bytes at a time.
func parseChunked(t *testing.T, msg string, step int) (parsed, Status) {
	t.Helper()
	var p Request
	data := []byte(msg)
	status := StatusIncomplete
	for end := step; ; end += step {
		if end > len(data) {
			end = len(data)
		}
		status = p.Parse(data[:end])
		if status != StatusIncomplete || end == len(data) {
			break
		}
	}
	if status != StatusComplete {
		return parsed{}, status
	}
	return snapshot(&p, data), status
}

func TestRequest_Parse(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want parsed
	}{
		{
			name: "get without body",
			msg:  "GET /accessories HTTP/1.1\r\nHost: lightbulb._hap._tcp.local\r\n\r\n",
			want: parsed{method: "GET", uri: "/accessories"},
		},
		{
			name: "put with json body",
			msg: "PUT /characteristics HTTP/1.1\r\nContent-Type: application/hap+json\r\n" +
				"Content-Length: 13\r\n\r\n{\"a\":1234567}",
			want: parsed{
				method: "PUT", uri: "/characteristics", contentLength: 13,
				contentType: ContentTypeHAPJSON, body: "{\"a\":1234567}",
			},
		},
		{
			name: "bare LF line endings and query",
			msg:  "GET /characteristics?id=1.10,1.11 HTTP/1.1\ncontent-length:0\n\n",
			want: parsed{method: "GET", uri: "/characteristics?id=1.10,1.11"},
		},
		{
			name: "leading empty lines are skipped",
			msg:  "\r\n\r\nPOST /identify HTTP/1.1\r\n\r\n",
			want: parsed{method: "POST", uri: "/identify"},
		},
		{
			name: "content type with parameters",
			msg: "POST /pair-setup HTTP/1.1\r\nContent-Type: application/pairing+tlv8; charset=x\r\n" +
				"Content-Length: 3\r\n\r\nabc",
			want: parsed{
				method: "POST", uri: "/pair-setup", contentLength: 3,
				contentType: ContentTypePairingTLV8, body: "abc",
			},
		},
		{
			name: "unknown content type is not an error",
			msg:  "POST /resource HTTP/1.1\r\nContent-Type: text/plain\r\n\r\n",
			want: parsed{method: "POST", uri: "/resource", contentType: ContentTypeUnknown},
		},
		{
			name: "quoted header value with escaped quote",
			msg:  "GET / HTTP/1.1\r\nX-Note: \"a \\\" b\"\r\n\r\n",
			want: parsed{method: "GET", uri: "/"},
		},
		{
			name: "folded header line",
			msg:  "GET / HTTP/1.1\r\nX-Long: a\r\n b\r\nContent-Length: 1\r\n\r\nz",
			want: parsed{method: "GET", uri: "/", contentLength: 1, body: "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := tt.want
			if want.length == 0 {
				want.length = len(tt.msg)
			}
			for _, step := range []int{1, 2, 3, 7, len(tt.msg)} {
				got, status := parseChunked(t, tt.msg, step)
				if status != StatusComplete {
					t.Fatalf("step %d: Parse() = %v, want Complete", step, status)
				}
				if got != want {
					t.Errorf("step %d: got %+v, want %+v", step, got, want)
				}
			}
		})
	}
}

func TestRequest_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		err  error
	}{
		{"repeated separator", "GET  /x HTTP/1.1\r\n\r\n", nil},
		{"bad method char", "G(T / HTTP/1.1\r\n\r\n", ErrMalformed},
		{"missing colon", "GET / HTTP/1.1\r\nHost\r\n\r\n", ErrMalformed},
		{"CR without LF", "GET / HTTP/1.1\r\nHost: a\rb\r\n\r\n", ErrMalformed},
		{"non decimal length", "PUT / HTTP/1.1\r\nContent-Length: 1x\r\n\r\n", ErrContentLength},
		{"overflowing length", "PUT / HTTP/1.1\r\nContent-Length: 99999999999999999999999\r\n\r\n", ErrContentLength},
		{"empty length", "PUT / HTTP/1.1\r\nContent-Length: \r\n\r\n", ErrContentLength},
		{"length near max int", "POST /pair-setup HTTP/1.1\r\nContent-Length: 9223372036854775807\r\n\r\n", ErrContentLength},
		{"length above limit", "PUT / HTTP/1.1\r\nContent-Length: 1048577\r\n\r\n", ErrContentLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, status := parseChunked(t, tt.msg, 1)
			if tt.err == nil {
				// Multiple separators are tolerated.
				if status != StatusComplete {
					t.Errorf("Parse() = %v, want Complete", status)
				}
				return
			}
			if status != StatusError {
				t.Fatalf("Parse() = %v, want Error", status)
			}
			var p Request
			p.Parse([]byte(tt.msg))
			if p.Err != tt.err {
				t.Errorf("Err = %v, want %v", p.Err, tt.err)
			}
		})
	}
}

func TestRequest_BodyShortfallIsIncomplete(t *testing.T) {
	var p Request
	msg := []byte("PUT /prepare HTTP/1.1\r\nContent-Length: 20\r\n\r\n{\"ttl\"")
	if status := p.Parse(msg); status != StatusIncomplete {
		t.Fatalf("Parse() = %v, want Incomplete", status)
	}
	if !p.HeadComplete() {
		t.Error("HeadComplete() = false")
	}
	if p.State() == StateError {
		t.Error("body shortfall moved parser into error state")
	}

	var q Request
	msg = []byte("POST /pair-setup HTTP/1.1\r\nContent-Length: 1048576\r\n\r\nabc")
	if status := q.Parse(msg); status != StatusIncomplete {
		t.Errorf("Parse() at MaxContentLength = %v, want Incomplete", status)
	}
}

// Compacting a buffer by the consumed length, then appending the rest of the
// stream, parses the next request exactly as parsing in place would.
func TestRequest_CompactionIdempotence(t *testing.T) {
	first := "PUT /characteristics HTTP/1.1\r\nContent-Length: 2\r\n\r\n{}"
	second := "GET /characteristics?id=1.10 HTTP/1.1\r\nContent-Type: application/hap+json\r\n\r\n"
	stream := first + second

	var ref Request
	if ref.Parse([]byte(stream)) != StatusComplete {
		t.Fatal("first request did not parse")
	}
	consumed := ref.Len()
	rest := []byte(stream)[consumed:]
	var inPlace Request
	if inPlace.Parse(rest) != StatusComplete {
		t.Fatal("second request did not parse in place")
	}
	want := snapshot(&inPlace, rest)

	for _, split := range []int{0, 5, 20, len(second) - 1} {
		buf := bytebuf.New(256)
		_ = buf.AppendString(first + second[:split])

		var p Request
		if p.Parse(buf.Head()) != StatusComplete {
			t.Fatalf("split %d: first request did not parse", split)
		}
		buf.ShiftLeft(p.Len())
		p.Reset()

		status := p.Parse(buf.Head())
		for _, c := range []byte(second[split:]) {
			if status != StatusIncomplete {
				break
			}
			_ = buf.Append([]byte{c})
			status = p.Parse(buf.Head())
		}
		if status != StatusComplete {
			t.Fatalf("split %d: Parse() = %v, want Complete", split, status)
		}
		if got := snapshot(&p, buf.Head()); got != want {
			t.Errorf("split %d: got %+v, want %+v", split, got, want)
		}
	}
}

func TestReader_TokenPerCall(t *testing.T) {
	var r Reader
	buf := []byte("POST /pairings HTTP/1.1\r\n")
	var tokens []string
	for off := 0; off < len(buf) && r.State() != StateError; {
		n, tok := r.Read(buf[off:])
		if tok.Valid && tok.Len > 0 {
			tokens = append(tokens, string(buf[off+tok.Start:off+tok.End()]))
		}
		off += n
	}
	if got := strings.Join(tokens, "|"); got != "POST|/pairings|HTTP/1.1" {
		t.Errorf("tokens = %q", got)
	}
}
