package ipserver

import (
	"time"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/hapjson"
)

// RaiseEvent reports that a characteristic value changed. Subscribed
// sessions are notified asynchronously. Safe for concurrent use.
func (srv *Server) RaiseEvent(aid, iid uint64) error {
	return srv.postEvent(aid, iid, 0, false)
}

// RaiseEventOnSession is RaiseEvent limited to one session.
func (srv *Server) RaiseEventOnSession(aid, iid uint64, sessionID uint64) error {
	return srv.postEvent(aid, iid, sessionID, true)
}

func (srv *Server) postEvent(aid, iid uint64, sessionID uint64, onlyOne bool) error {
	loc, ok := srv.cfg.Database.Find(aid, iid)
	if !ok || !loc.Characteristic.Properties.SupportsEventNotification {
		return ErrUnknownCharacteristic
	}
	srv.echoMu.Lock()
	origin := srv.echo
	srv.echoMu.Unlock()
	if origin.active && (origin.aid != aid || origin.iid != iid) {
		origin = echoOrigin{}
	}
	srv.loop.Post(func() {
		srv.raiseEvent(loc, origin, sessionID, onlyOne)
	})
	return nil
}

func (srv *Server) setEchoOrigin(s *Session, aid, iid uint64) {
	srv.echoMu.Lock()
	srv.echo = echoOrigin{active: true, session: s.ID(), aid: aid, iid: iid}
	srv.echoMu.Unlock()
}

func (srv *Server) clearEchoOrigin() {
	srv.echoMu.Lock()
	srv.echo = echoOrigin{}
	srv.echoMu.Unlock()
}

// raiseEvent flags the characteristic on every eligible session.
func (srv *Server) raiseEvent(loc accessory.Location, origin echoOrigin, sessionID uint64, onlyOne bool) {
	if srv.state != StateRunning || srv.next != nextUndefined {
		return
	}
	aid, iid := loc.Accessory.AID, loc.Characteristic.IID
	kind := kindHAP
	if srv.inWACMode {
		kind = kindMFiSAP
	}
	notified := 0
	srv.pool.each(func(s *Session) {
		if onlyOne && s.ID() != sessionID {
			return
		}
		if !s.sec.isSecured || s.IsTransient() || s.sec.kind != kind {
			return
		}
		if origin.active && origin.session == s.ID() {
			return
		}
		if s.events.setPending(aid, iid) {
			notified++
		}
	})
	if notified > 0 {
		srv.armEventTimer(0)
		return
	}
	if !onlyOne && srv.cfg.SecurityProvider.IsPaired() {
		// Nobody is listening: tell controllers through discovery.
		srv.bumpStateNumber()
	}
}

// armEventTimer arms the shared event timer unless it is already due
// earlier.
func (srv *Server) armEventTimer(d time.Duration) {
	if deadline, ok := srv.loop.Deadline(srv.eventTimer); ok {
		if !deadline.After(srv.loop.Now().Add(d)) {
			return
		}
		srv.loop.Cancel(srv.eventTimer)
	}
	srv.eventTimer = srv.loop.AfterFunc(d, srv.flushEvents)
}

// flushEvents sends pending events of every session that is waiting for a
// request. Sessions that are busy are flushed once their output drains.
func (srv *Server) flushEvents() {
	if srv.state != StateRunning || srv.next != nextUndefined {
		return
	}
	rearm := time.Duration(-1)
	srv.pool.each(func(s *Session) {
		if !s.events.hasPending() || !s.isIdle() {
			return
		}
		if d := srv.flushSession(s); d > 0 && (rearm < 0 || d < rearm) {
			rearm = d
		}
	})
	if rearm >= 0 {
		srv.armEventTimer(rearm)
	}
}

// flushSession sends one EVENT message with every due characteristic and
// returns the delay until the remaining ones are due, or 0.
func (srv *Server) flushSession(s *Session) time.Duration {
	now := srv.loop.Now()
	delay := srv.cfg.EventCoalescingDelay
	elapsed := now.Sub(s.eventStamp)
	due := s.eventStamp.IsZero() || elapsed >= delay

	var keys []eventKey
	deferred := false
	s.events.eachPending(func(aid, iid uint64) {
		loc, ok := srv.cfg.Database.Find(aid, iid)
		if !ok {
			return
		}
		if !due && !accessory.IsMomentaryEvent(loc.Characteristic.Type) {
			deferred = true
			return
		}
		keys = append(keys, eventKey{aid, iid})
	})

	values := srv.values[:0]
	regular := false
	for _, k := range keys {
		loc, _ := srv.cfg.Database.Find(k.aid, k.iid)
		raw, status := srv.callRead(srv.ctx, s, loc)
		if status != accessory.StatusSuccess {
			// The change is dropped; the next one is sent normally.
			s.events.clearPending(k.aid, k.iid)
			continue
		}
		values = append(values, hapjson.Value{AID: k.aid, IID: k.iid, Value: raw})
		if !accessory.IsMomentaryEvent(loc.Characteristic.Type) {
			regular = true
		}
	}
	defer func() {
		clear(values)
		srv.values = values[:0]
	}()

	var remaining time.Duration
	if deferred {
		remaining = delay - elapsed
	}
	if len(values) == 0 {
		return remaining
	}

	body, err := hapjson.AppendValues(srv.scratchBytes(), values)
	if err == nil {
		err = srv.keepScratch(body)
	}
	if err != nil {
		// Retried on the next timer fire.
		s.warnf("event encode skipped: %v", err)
		if remaining == 0 {
			remaining = delay
		}
		return remaining
	}
	head := appendHead(srv.headBuf[:0], "EVENT/1.0", 200, contentTypeHAPJSON, len(body))
	srv.headBuf = head[:0]
	if err := s.queue(head, body); err != nil {
		if !srv.cfg.Allocator.IsDynamic() {
			panic(ErrFatal)
		}
		s.outbound.Truncate(s.outboundMark)
		s.warnf("event dropped: %v", err)
		if remaining == 0 {
			remaining = delay
		}
		return remaining
	}

	for _, v := range values {
		s.events.clearPending(v.AID, v.IID)
	}
	if regular {
		s.eventStamp = now
	}
	srv.metrics.eventMessages.Inc()
	srv.metrics.eventValues.Add(float64(len(values)))
	s.logf("event with %d values", len(values))
	s.state = sessionWriting
	s.updateInterests()
	return remaining
}
