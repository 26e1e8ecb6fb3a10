package ipserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/hapjson"
	"github.com/backkem/hap/pkg/httpreader"
)

// request is a parsed request handed to a route handler. Body aliases the
// inbound buffer and is only valid until the response is written.
type request struct {
	method      string
	path        string
	query       string
	contentType httpreader.ContentType
	body        []byte
}

type handlerFunc func(srv *Server, s *Session, r *request)

// wacRule restricts a route to one server mode.
type wacRule uint8

const (
	wacAny wacRule = iota
	wacOnly
	wacNever
)

type route struct {
	method string
	path   string

	secured   bool
	kind      securityKind
	transient bool
	wac       wacRule

	handle handlerFunc
}

var routes = []route{
	{method: http.MethodPost, path: "/pair-setup", kind: kindHAP, transient: true, handle: handlePairSetup},
	{method: http.MethodPost, path: "/pair-verify", kind: kindHAP, transient: true, handle: handlePairVerify},
	{method: http.MethodPost, path: "/pairings", secured: true, kind: kindHAP, handle: handlePairings},
	{method: http.MethodGet, path: "/accessories", secured: true, kind: kindHAP, handle: handleAccessories},
	{method: http.MethodGet, path: "/characteristics", secured: true, kind: kindHAP, handle: handleReadCharacteristics},
	{method: http.MethodPut, path: "/characteristics", secured: true, kind: kindHAP, handle: handleWriteCharacteristics},
	{method: http.MethodPut, path: "/prepare", secured: true, kind: kindHAP, handle: handlePrepare},
	{method: http.MethodPost, path: "/resource", secured: true, kind: kindHAP, handle: handleResource},
	{method: http.MethodPost, path: "/secure-message", secured: true, kind: kindHAP, transient: true, handle: handleSecureMessage},
	{method: http.MethodPost, path: "/identify", transient: true, handle: handleIdentify},
	{method: http.MethodPost, path: "/auth-setup", kind: kindMFiSAP, transient: true, wac: wacOnly, handle: handleAuthSetup},
	{method: http.MethodPost, path: "/config", secured: true, kind: kindMFiSAP, transient: true, wac: wacOnly, handle: handleConfig},
	{method: http.MethodPost, path: "/configured", secured: true, kind: kindHAP, wac: wacNever, handle: handleConfigured},
}

// dispatch routes the complete request at the start of data.
func (srv *Server) dispatch(s *Session, data []byte) {
	if s.sec.isSecured && s.sec.hap != nil && s.sec.hap.KeyExpired() {
		s.warnf("session key expired")
		s.close(closeReasonKeyExpired)
		return
	}

	p := &s.req
	r := &request{
		method:      string(p.Method.Bytes(data)),
		path:        string(p.URI.Bytes(data)),
		contentType: p.ContentType,
		body:        p.Body(data),
	}
	if path, query, ok := strings.Cut(r.path, "?"); ok && path == "/characteristics" {
		r.path, r.query = path, query
	}
	s.logf("%s %s (%d bytes)", r.method, r.path, len(r.body))

	known := false
	for i := range routes {
		rt := &routes[i]
		if rt.path != r.path {
			continue
		}
		known = true
		if rt.method != r.method {
			continue
		}
		switch {
		case rt.wac == wacOnly && !srv.inWACMode, rt.wac == wacNever && srv.inWACMode:
			s.writeEmpty(http.StatusNotFound)
		case rt.secured && !s.sec.isSecured, rt.kind != 0 && rt.kind != s.sec.kind:
			s.writeStatusBody(StatusConnectionAuthorizationRequired, accessory.StatusInsufficientPrivileges)
		case !rt.transient && s.IsTransient():
			s.writeStatusBody(StatusConnectionAuthorizationRequired, accessory.StatusInsufficientPrivileges)
		default:
			rt.handle(srv, s, r)
		}
		srv.metrics.request(rt.path, s.lastCode)
		return
	}
	if known {
		s.writeEmpty(http.StatusMethodNotAllowed)
	} else {
		s.writeEmpty(http.StatusNotFound)
	}
	srv.metrics.request("other", s.lastCode)
}

// HTTP status codes outside net/http.
const (
	// StatusConnectionAuthorizationRequired rejects requests that need a
	// secured session.
	StatusConnectionAuthorizationRequired = 470
)

func statusText(code int) string {
	if code == StatusConnectionAuthorizationRequired {
		return "Connection Authorization Required"
	}
	return http.StatusText(code)
}

// Content types of responses.
const (
	contentTypeHAPJSON     = "application/hap+json"
	contentTypeTLV8        = "application/pairing+tlv8"
	contentTypeOctetStream = "application/octet-stream"
)

// appendHead appends a status line and headers.
func appendHead(dst []byte, proto string, code int, contentType string, contentLength int) []byte {
	dst = append(dst, proto...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(code), 10)
	dst = append(dst, ' ')
	dst = append(dst, statusText(code)...)
	dst = append(dst, "\r\n"...)
	if contentType != "" {
		dst = append(dst, "Content-Type: "...)
		dst = append(dst, contentType...)
		dst = append(dst, "\r\n"...)
	}
	if contentLength >= 0 {
		dst = append(dst, "Content-Length: "...)
		dst = strconv.AppendInt(dst, int64(contentLength), 10)
		dst = append(dst, "\r\n"...)
	}
	return append(dst, "\r\n"...)
}

// writeResponse finishes the current request and queues a response. Every
// response goes through here.
func (s *Session) writeResponse(code int, contentType string, body []byte) {
	s.finishRequest()
	s.lastCode = code
	contentLength := len(body)
	if code == http.StatusNoContent {
		contentLength = -1
	}
	head := appendHead(s.server.headBuf[:0], "HTTP/1.1", code, contentType, contentLength)
	s.server.headBuf = head[:0]
	if err := s.queue(head, body); err != nil {
		s.handleQueueError(err)
		return
	}
	s.state = sessionWriting
}

// handleQueueError recovers from an outbound buffer that cannot hold a
// response. With a dynamic allocator the controller gets an out of resources
// response; a fixed allocator cannot shrink demand.
func (s *Session) handleQueueError(err error) {
	srv := s.server
	if !srv.cfg.Allocator.IsDynamic() {
		panic(ErrFatal)
	}
	s.warnf("response dropped: %v", err)
	s.outbound.Truncate(s.outboundMark)
	body := hapjson.AppendStatus(nil, int(accessory.StatusOutOfResources))
	head := appendHead(nil, "HTTP/1.1", http.StatusInternalServerError, contentTypeHAPJSON, len(body))
	if err := s.queue(head, body); err != nil {
		s.close(closeReasonOversized)
		return
	}
	s.lastCode = http.StatusInternalServerError
	s.state = sessionWriting
}

func (s *Session) writeEmpty(code int) {
	s.writeResponse(code, "", nil)
}

// writeStatusBody responds with {"status":N}.
func (s *Session) writeStatusBody(code int, status accessory.Status) {
	body := hapjson.AppendStatus(s.server.scratchBytes(), int(status))
	s.writeResponse(code, contentTypeHAPJSON, body)
}

// scratchBytes borrows the scratch buffer as an empty slice.
func (srv *Server) scratchBytes() []byte {
	srv.scratch.Clear()
	return srv.scratch.Slice(0, 0)
}

// keepScratch stores b back as the scratch buffer if it outgrew it. The
// fixed allocator treats outgrowing the scratch buffer as fatal.
func (srv *Server) keepScratch(b []byte) error {
	if len(b) <= srv.scratch.Capacity() {
		return nil
	}
	srv.scratch.Clear()
	if err := srv.cfg.Allocator.Grow(srv.scratch, len(b)); err != nil {
		if !srv.cfg.Allocator.IsDynamic() {
			panic(ErrFatal)
		}
		return err
	}
	return nil
}
