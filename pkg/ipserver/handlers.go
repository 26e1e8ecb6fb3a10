package ipserver

import (
	"encoding/binary"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/hapjson"
	"github.com/backkem/hap/pkg/httpreader"
	"github.com/backkem/hap/pkg/security"
)

// pairingCode maps a pairing collaborator error to an HTTP status code.
func pairingCode(err error) int {
	switch {
	case errors.Is(err, security.ErrInvalidRequest), errors.Is(err, security.ErrNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, security.ErrAuthentication):
		return StatusConnectionAuthorizationRequired
	default:
		return http.StatusInternalServerError
	}
}

func handlePairSetup(srv *Server, s *Session, r *request) {
	if r.contentType != httpreader.ContentTypePairingTLV8 {
		s.writeEmpty(http.StatusBadRequest)
		return
	}
	wasPaired := srv.cfg.SecurityProvider.IsPaired()
	resp, err := s.sec.hap.PairSetup(srv.ctx, r.body)
	if err != nil {
		s.warnf("pair-setup: %v", err)
		s.writeEmpty(pairingCode(err))
		return
	}
	s.writeResponse(http.StatusOK, contentTypeTLV8, resp)
	if !wasPaired && srv.cfg.SecurityProvider.IsPaired() {
		if srv.log != nil {
			srv.log.Info("accessory paired")
		}
		srv.publish()
	}
}

func handlePairVerify(srv *Server, s *Session, r *request) {
	if r.contentType != httpreader.ContentTypePairingTLV8 {
		s.writeEmpty(http.StatusBadRequest)
		return
	}
	resp, err := s.sec.hap.PairVerify(srv.ctx, r.body)
	if err != nil {
		s.warnf("pair-verify: %v", err)
		s.writeEmpty(pairingCode(err))
		return
	}
	// The response itself still goes out in plaintext.
	s.writeResponse(http.StatusOK, contentTypeTLV8, resp)
	if !s.sec.isSecured && s.sec.hap.IsSecured() {
		s.sec.isSecured = true
		s.sec.check()
		s.logf("secured (admin=%v)", s.IsAdmin())
	}
}

func handlePairings(srv *Server, s *Session, r *request) {
	if r.contentType != httpreader.ContentTypePairingTLV8 {
		s.writeEmpty(http.StatusBadRequest)
		return
	}
	resp, err := s.sec.hap.Pairings(srv.ctx, r.body)
	if err != nil {
		s.warnf("pairings: %v", err)
		s.writeEmpty(pairingCode(err))
		return
	}
	s.writeResponse(http.StatusOK, contentTypeTLV8, resp)
	if srv.cfg.SecurityProvider.IsPaired() {
		return
	}
	// The last pairing was removed: every secured session is now stale.
	if srv.log != nil {
		srv.log.Info("last pairing removed")
	}
	srv.publish()
	srv.pool.each(func(other *Session) {
		if other != s && other.sec.isSecured {
			other.close(closeReasonUnpaired)
		}
	})
	s.closeAfterResponse = true
}

func handleIdentify(srv *Server, s *Session, _ *request) {
	if srv.cfg.SecurityProvider.IsPaired() {
		s.writeStatusBody(http.StatusBadRequest, accessory.StatusInsufficientPrivileges)
		return
	}
	if srv.cfg.Identify != nil {
		if err := srv.cfg.Identify(srv.ctx); err != nil {
			s.warnf("identify: %v", err)
			s.writeStatusBody(http.StatusInternalServerError, accessory.StatusFromError(err))
			return
		}
	}
	s.writeEmpty(http.StatusNoContent)
}

// maxPrepareTTL is the largest TTL, in milliseconds, that fits a
// time.Duration.
const maxPrepareTTL = math.MaxInt64 / uint64(time.Millisecond)

func handlePrepare(srv *Server, s *Session, r *request) {
	req, err := hapjson.DecodePrepareRequest(r.body)
	if err != nil {
		s.warnf("prepare: %v", err)
		s.writeStatusBody(http.StatusBadRequest, accessory.StatusInvalidValueInRequest)
		return
	}
	ttl := req.TTL
	if ttl > maxPrepareTTL {
		ttl = maxPrepareTTL
	}
	// A new transaction replaces any earlier one.
	s.timedWrite = timedWrite{
		active:  true,
		pid:     req.PID,
		expires: srv.loop.Now().Add(time.Duration(ttl) * time.Millisecond),
	}
	s.logf("prepared timed write pid=%d ttl=%dms", req.PID, req.TTL)
	s.writeStatusBody(http.StatusOK, accessory.StatusSuccess)
}

func handleResource(srv *Server, s *Session, r *request) {
	if srv.cfg.ResourceHandler == nil {
		s.writeEmpty(http.StatusNotFound)
		return
	}
	req, err := hapjson.DecodeResourceRequest(r.body)
	if err != nil {
		s.warnf("resource: %v", err)
		s.writeEmpty(http.StatusBadRequest)
		return
	}
	contentType, body, err := srv.cfg.ResourceHandler(srv.ctx, req)
	if err != nil {
		s.warnf("resource: %v", err)
		s.writeStatusBody(http.StatusInternalServerError, accessory.StatusFromError(err))
		return
	}
	s.writeResponse(http.StatusOK, contentType, body)
}

// PDU is a HAP-PDU request carried by /secure-message.
type PDU struct {
	Control byte
	Opcode  byte
	TID     byte
	IID     uint16
	Body    []byte
}

// PDU status when no handler understands the request.
const pduStatusUnsupported = 1

// parsePDU decodes control, opcode, tid, iid (LE16) and an optional
// length-prefixed (LE16) body.
func parsePDU(b []byte) (PDU, bool) {
	if len(b) < 5 {
		return PDU{}, false
	}
	pdu := PDU{
		Control: b[0],
		Opcode:  b[1],
		TID:     b[2],
		IID:     binary.LittleEndian.Uint16(b[3:5]),
	}
	rest := b[5:]
	if len(rest) == 0 {
		return pdu, true
	}
	if len(rest) < 2 {
		return PDU{}, false
	}
	n := int(binary.LittleEndian.Uint16(rest))
	if len(rest)-2 != n {
		return PDU{}, false
	}
	pdu.Body = rest[2:]
	return pdu, true
}

// appendPDUResponse appends a response PDU: control 0x02, tid, status and a
// length-prefixed body.
func appendPDUResponse(dst []byte, tid, status byte, body []byte) []byte {
	dst = append(dst, 0x02, tid, status)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(body)))
	return append(dst, body...)
}

func handleSecureMessage(srv *Server, s *Session, r *request) {
	if r.contentType != httpreader.ContentTypeOctetStream {
		s.writeEmpty(http.StatusBadRequest)
		return
	}
	pdu, ok := parsePDU(r.body)
	if !ok || len(pdu.Body) > 0xffff {
		s.writeEmpty(http.StatusBadRequest)
		return
	}
	status, body := byte(pduStatusUnsupported), []byte(nil)
	if srv.cfg.PDUHandler != nil {
		// The request body aliases the inbound buffer; copy before the
		// handler may keep it.
		pdu.Body = append([]byte(nil), pdu.Body...)
		status, body = srv.cfg.PDUHandler(srv.ctx, s, pdu)
	}
	if len(body) > 0xffff {
		status, body = pduStatusUnsupported, nil
	}
	resp := appendPDUResponse(srv.scratchBytes(), pdu.TID, status, body)
	s.writeResponse(http.StatusOK, contentTypeOctetStream, resp)
}
