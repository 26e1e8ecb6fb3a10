package ipserver

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/backkem/hap/pkg/bytebuf"
	"github.com/backkem/hap/pkg/httpreader"
	"github.com/backkem/hap/pkg/security"
	"github.com/backkem/hap/pkg/transport"
)

// securityKind is the kind of security session a connection runs.
type securityKind uint8

const (
	// kindHAP is the accessory pairing protocol.
	kindHAP securityKind = iota + 1
	// kindMFiSAP secures Wi-Fi configuration.
	kindMFiSAP
)

func (k securityKind) String() string {
	switch k {
	case kindHAP:
		return "HAP"
	case kindMFiSAP:
		return "MFiSAP"
	default:
		return "unknown"
	}
}

// securitySession is the security state of one connection.
type securitySession struct {
	kind      securityKind
	isOpen    bool
	isSecured bool

	// receivedConfig is set by /config: the session sends FIN after its
	// next response, and the server leaves WAC mode once the controller
	// closes its side.
	receivedConfig bool

	// receivedConfigured is set by /configured.
	receivedConfigured bool

	hap       security.Session
	wacCipher security.Cipher
}

func (s *securitySession) cipher() security.Cipher {
	if !s.isSecured {
		return nil
	}
	if s.kind == kindMFiSAP {
		return s.wacCipher
	}
	return s.hap.Cipher()
}

// check asserts isSecured => isOpen.
func (s *securitySession) check() {
	if s.isSecured && !s.isOpen {
		panic("ipserver: secured security session is not open")
	}
}

func (s *securitySession) release() {
	if s.hap != nil {
		s.hap.Release()
	}
	*s = securitySession{}
}

// timedWrite is a prepared write transaction.
type timedWrite struct {
	active  bool
	pid     uint64
	expires time.Time
}

// Session is the protocol state of one controller connection. All fields
// are owned by the run loop.
type Session struct {
	server     *Server
	index      int
	generation uint32

	stream transport.Stream
	state  sessionState
	closed bool
	stamp  time.Time

	// Progression watchdog state.
	lastNonAck  int
	didProgress bool

	// inbound holds [0, inboundMark) plaintext followed by
	// [inboundMark, position) data still to be decrypted.
	inbound     *bytebuf.Buffer
	inboundMark int
	inputClosed bool

	// outbound holds [0, outboundMark) bytes ready to send followed by
	// [outboundMark, position) plaintext still to be encrypted.
	outbound     *bytebuf.Buffer
	outboundMark int

	req            httpreader.Request
	requestPending bool

	sec        securitySession
	events     eventSet
	eventStamp time.Time
	timedWrite timedWrite

	accessories *accessoriesWriter

	// Set while the server drains sessions before a state transition.
	flaggedForIdle bool

	// streaming sessions are never evicted.
	streaming bool

	closeAfterResponse    bool
	closeOutputAfterWrite bool

	// lastCode is the status code of the latest response.
	lastCode int
}

// ID returns the session identifier, unique across slot reuse.
func (s *Session) ID() uint64 {
	return uint64(s.generation)<<32 | uint64(s.index)
}

// IsAdmin reports whether the verified controller is an admin.
func (s *Session) IsAdmin() bool {
	return s.sec.kind == kindHAP && s.sec.isSecured && s.sec.hap.IsAdmin()
}

// IsTransient reports whether the session may only be used for setup.
func (s *Session) IsTransient() bool {
	return s.sec.kind == kindHAP && s.sec.hap != nil && s.sec.hap.IsTransient()
}

// IsSecured reports whether the session traffic is encrypted.
func (s *Session) IsSecured() bool { return s.sec.isSecured }

func (s *Session) logf(format string, args ...any) {
	if log := s.server.log; log != nil {
		log.Debugf("[%d] "+format, append([]any{s.index}, args...)...)
	}
}

func (s *Session) warnf(format string, args ...any) {
	if log := s.server.log; log != nil {
		log.Warnf("[%d] "+format, append([]any{s.index}, args...)...)
	}
}

// isIdle reports whether the session has nothing in flight.
func (s *Session) isIdle() bool {
	return s.state == sessionReading &&
		s.inbound.Position() == 0 &&
		s.outbound.Position() == 0 &&
		s.accessories == nil
}

func (s *Session) updateInterests() {
	if s.closed {
		return
	}
	switch s.state {
	case sessionReading:
		s.stream.UpdateInterests(transport.InterestReadable)
	case sessionWriting:
		s.stream.UpdateInterests(transport.InterestWritable)
	default:
		s.stream.UpdateInterests(transport.InterestNone)
	}
}

// handleReadable reads once from the stream and processes every request
// that is complete.
func (s *Session) handleReadable() {
	if s.closed || s.state != sessionReading {
		return
	}
	srv := s.server
	if s.inbound.Remaining() == 0 {
		if err := srv.cfg.Allocator.Grow(s.inbound, readChunk); err != nil {
			s.warnf("request exceeds %d bytes", s.inbound.Capacity())
			s.close(closeReasonOversized)
			return
		}
	}
	n, err := s.stream.Read(s.inbound.Bytes())
	if n > 0 {
		s.inbound.Advance(n)
		s.stamp = srv.loop.Now()
		srv.metrics.bytesRead.Add(float64(n))
	}
	switch {
	case err == nil, errors.Is(err, transport.ErrWouldBlock):
	case errors.Is(err, io.EOF):
		s.inputClosed = true
	default:
		s.warnf("read failed: %v", err)
		s.close(closeReasonError)
		return
	}

	if err := s.decryptInbound(); err != nil {
		s.warnf("decryption failed: %v", err)
		s.close(closeReasonDecrypt)
		return
	}
	s.processRequests()
	if s.closed {
		return
	}
	if s.inputClosed && s.state == sessionReading {
		s.handlePeerClosed()
		return
	}
	s.updateInterests()
}

// readChunk is the minimum free space requested before a read.
const readChunk = 1024

// decryptInbound opens every complete frame past inboundMark in place.
func (s *Session) decryptInbound() error {
	c := s.sec.cipher()
	if c == nil {
		s.inboundMark = s.inbound.Position()
		return nil
	}
	for s.inboundMark < s.inbound.Position() {
		pos := s.inbound.Position()
		pt, n, err := c.Decrypt(s.inbound.Slice(s.inboundMark, pos))
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		// Move the plaintext down over the frame header, then close the
		// gap left by the header and tag.
		copy(s.inbound.Slice(s.inboundMark, s.inboundMark+len(pt)), pt)
		gap := n - len(pt)
		end := s.inboundMark + len(pt)
		copy(s.inbound.Slice(end, pos-gap), s.inbound.Slice(end+gap, pos))
		s.inbound.SetPosition(pos - gap)
		s.inboundMark = end
	}
	return nil
}

// processRequests parses and handles buffered requests until one is
// incomplete or a response is being written.
func (s *Session) processRequests() {
	for !s.closed && s.state == sessionReading && s.inboundMark > 0 {
		data := s.inbound.Slice(0, s.inboundMark)
		switch s.req.Parse(data) {
		case httpreader.StatusIncomplete:
			return
		case httpreader.StatusError:
			s.warnf("malformed request: %v", s.req.Err)
			s.close(closeReasonMalformed)
			return
		case httpreader.StatusComplete:
			s.requestPending = true
			s.server.dispatch(s, data)
			if s.requestPending && !s.closed {
				panic("ipserver: request handled without a response")
			}
		}
	}
}

// finishRequest consumes the parsed request from the inbound buffer. It must
// run before anything is written to the outbound buffer.
func (s *Session) finishRequest() {
	if !s.requestPending {
		return
	}
	n := s.req.Len()
	s.inbound.ShiftLeft(n)
	s.inboundMark -= n
	s.req.Reset()
	s.requestPending = false
}

// queue appends parts to the outbound buffer as one message and encrypts
// it if the session is secured.
func (s *Session) queue(parts ...[]byte) error {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	need := total
	if s.sec.isSecured {
		need = security.EncryptedLen(total)
	}
	if s.outbound.Remaining() < need {
		if err := s.server.cfg.Allocator.Grow(s.outbound, need); err != nil {
			return err
		}
	}
	for _, p := range parts {
		if err := s.outbound.Append(p); err != nil {
			return err
		}
	}
	return s.seal()
}

// seal encrypts [outboundMark, position) and marks everything ready to send.
func (s *Session) seal() error {
	pos := s.outbound.Position()
	c := s.sec.cipher()
	if c == nil || s.outboundMark == pos {
		s.outboundMark = pos
		return nil
	}
	srv := s.server
	sealed, err := c.Encrypt(srv.sealBuf[:0], s.outbound.Slice(s.outboundMark, pos))
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	srv.sealBuf = sealed[:0]
	s.outbound.Truncate(s.outboundMark)
	if err := s.outbound.Append(sealed); err != nil {
		return err
	}
	s.outboundMark = s.outbound.Position()
	return nil
}

// handleWritable sends pending output. Once everything is sent the session
// continues with the chunked accessory writer, the next buffered request or
// pending events.
func (s *Session) handleWritable() {
	if s.closed || s.state != sessionWriting {
		return
	}
	srv := s.server
	for {
		for s.outboundMark > 0 {
			n, err := s.stream.Write(s.outbound.Slice(0, s.outboundMark))
			if n > 0 {
				s.outbound.ShiftLeft(n)
				s.outboundMark -= n
				s.didProgress = true
				s.stamp = srv.loop.Now()
				srv.metrics.bytesWritten.Add(float64(n))
			}
			if errors.Is(err, transport.ErrWouldBlock) || (err == nil && n == 0) {
				s.updateInterests()
				return
			}
			if err != nil {
				s.warnf("write failed: %v", err)
				s.close(closeReasonError)
				return
			}
		}
		if s.accessories == nil {
			break
		}
		srv.writeAccessoriesChunk(s)
		if s.closed {
			return
		}
	}
	s.onOutputDrained()
}

// onOutputDrained runs when all queued output has been handed to the stream.
func (s *Session) onOutputDrained() {
	srv := s.server
	switch {
	case s.closeAfterResponse:
		s.close(closeReasonUnpaired)
		return
	case s.closeOutputAfterWrite:
		s.closeOutputAfterWrite = false
		if err := s.stream.CloseOutput(); err != nil {
			s.warnf("close output failed: %v", err)
		}
	}
	s.state = sessionReading
	if s.flaggedForIdle && s.isIdle() {
		s.close(closeReasonIdle)
		return
	}
	s.processRequests()
	if s.closed {
		return
	}
	if s.inputClosed && s.state == sessionReading {
		s.handlePeerClosed()
		return
	}
	if s.state == sessionReading && s.events.hasPending() {
		srv.armEventTimer(0)
	}
	s.updateInterests()
}

// handlePeerClosed runs when the controller closed its output and nothing is
// left to answer.
func (s *Session) handlePeerClosed() {
	receivedConfig := s.sec.receivedConfig
	s.close(closeReasonPeer)
	if receivedConfig {
		s.server.exitWACMode()
	}
}

// close tears the session down. The slot is reclaimed by the next garbage
// collection.
func (s *Session) close(reason string) {
	if s.closed {
		return
	}
	srv := s.server
	s.logf("closing (%s)", reason)
	s.closed = true
	srv.unsubscribeAll(s)
	s.accessories = nil
	s.timedWrite = timedWrite{}
	s.req.Reset()
	s.requestPending = false
	srv.cfg.Allocator.Release(s.inbound)
	srv.cfg.Allocator.Release(s.outbound)
	s.inboundMark, s.outboundMark = 0, 0
	s.sec.release()
	s.stream.UpdateInterests(transport.InterestNone)
	if err := s.stream.Close(); err != nil {
		s.logf("stream close: %v", err)
	}
	s.state = sessionIdle
	srv.live--
	srv.metrics.sessionsActive.Dec()
	srv.metrics.sessionsClosed.WithLabelValues(reason).Inc()
	srv.scheduleGC()
}
