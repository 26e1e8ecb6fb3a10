package ipserver

import (
	"errors"

	"github.com/backkem/hap/pkg/transport"
)

// pool is the fixed-capacity session arena. Slots are addressed by index;
// a slot's generation changes every time it is reused so that session IDs
// held elsewhere never resolve to a newer session.
type pool struct {
	slots       []*Session
	generations []uint32
	byStream    map[transport.StreamID]int
}

func newPool(capacity int) pool {
	return pool{
		slots:       make([]*Session, capacity),
		generations: make([]uint32, capacity),
		byStream:    make(map[transport.StreamID]int),
	}
}

func (p *pool) lookup(id uint64) *Session {
	index := int(id & 0xffffffff)
	if index >= len(p.slots) {
		return nil
	}
	s := p.slots[index]
	if s == nil || s.closed || s.generation != uint32(id>>32) {
		return nil
	}
	return s
}

func (p *pool) byStreamID(id transport.StreamID) *Session {
	i, ok := p.byStream[id]
	if !ok {
		return nil
	}
	return p.slots[i]
}

// each visits every open session.
func (p *pool) each(fn func(s *Session)) {
	for _, s := range p.slots {
		if s != nil && !s.closed {
			fn(s)
		}
	}
}

// acceptPending admits every connection waiting on the listener. The
// listener stays open while a restart drains, and connections accepted then
// are drained along with the rest.
func (srv *Server) acceptPending() {
	if srv.listener == nil {
		return
	}
	if srv.state != StateRunning && !(srv.state == StateStopping && srv.next == nextRunning) {
		return
	}
	for {
		stream, err := srv.listener.Accept()
		if errors.Is(err, transport.ErrWouldBlock) {
			return
		}
		if err != nil {
			if srv.log != nil {
				srv.log.Warnf("accept failed: %v", err)
			}
			return
		}
		srv.admit(stream)
	}
}

// admit places a new connection into a free slot, evicting a session first
// when only one slot is left.
func (srv *Server) admit(stream transport.Stream) {
	if srv.live >= len(srv.pool.slots)-1 {
		if victim := srv.evictionCandidate(); victim != nil {
			victim.logf("evicted for %v", stream.RemoteAddr())
			victim.close(closeReasonEvicted)
		}
	}

	index := -1
	for i, s := range srv.pool.slots {
		if s == nil {
			index = i
			break
		}
	}
	if index < 0 {
		if srv.log != nil {
			srv.log.Warnf("no free session slot, rejecting %v", stream.RemoteAddr())
		}
		srv.metrics.sessionsRejected.Inc()
		_ = stream.Close()
		return
	}

	srv.pool.generations[index]++
	s := &Session{
		server:     srv,
		index:      index,
		generation: srv.pool.generations[index],
		stream:     stream,
		state:      sessionReading,
		stamp:      srv.loop.Now(),
		inbound:    srv.cfg.Allocator.Allocate(srv.cfg.InboundBufferSize),
		outbound:   srv.cfg.Allocator.Allocate(srv.cfg.OutboundBufferSize),
		events:     newEventSet(srv.cfg.EventStorage, srv.cfg.MaxEventNotifications, srv.cfg.Database),
	}
	s.flaggedForIdle = srv.state == StateStopping
	s.sec.isOpen = true
	if srv.inWACMode {
		s.sec.kind = kindMFiSAP
	} else {
		s.sec.kind = kindHAP
		hs, err := srv.cfg.SecurityProvider.NewSession()
		if err != nil {
			if srv.log != nil {
				srv.log.Errorf("security session: %v", err)
			}
			srv.metrics.sessionsRejected.Inc()
			_ = stream.Close()
			return
		}
		s.sec.hap = hs
	}
	s.sec.check()

	srv.pool.slots[index] = s
	srv.pool.byStream[stream.ID()] = index
	srv.live++
	srv.metrics.sessionsAccepted.Inc()
	srv.metrics.sessionsActive.Inc()
	s.logf("accepted %v (%s)", stream.RemoteAddr(), s.sec.kind)
	s.updateInterests()
}

// evictionCandidate picks the session to close when the pool is nearly
// full: a session already flagged for idle closure, otherwise the least
// recently active one. Streaming sessions are never chosen.
func (srv *Server) evictionCandidate() *Session {
	var victim *Session
	for _, s := range srv.pool.slots {
		if s == nil || s.closed {
			continue
		}
		if s.flaggedForIdle {
			return s
		}
		if s.streaming {
			continue
		}
		if victim == nil || s.stamp.Before(victim.stamp) {
			victim = s
		}
	}
	return victim
}

// scheduleGC arms the garbage collection timer if it is not armed yet.
func (srv *Server) scheduleGC() {
	if srv.loop.Active(srv.gcTimer) {
		return
	}
	srv.gcTimer = srv.loop.AfterFunc(0, srv.collect)
}

// collect destroys closed sessions and completes a pending state transition
// once the last session is gone.
func (srv *Server) collect() {
	for i, s := range srv.pool.slots {
		if s == nil || !s.closed {
			continue
		}
		if s.state != sessionIdle {
			panic("ipserver: destroying a session that is not idle")
		}
		if j, ok := srv.pool.byStream[s.stream.ID()]; ok && j == i {
			delete(srv.pool.byStream, s.stream.ID())
		}
		srv.pool.slots[i] = nil
	}
	if srv.state == StateStopping && srv.live == 0 {
		srv.finishTransition()
	}
}

// unsubscribeAll drops every subscription of a closing session.
func (srv *Server) unsubscribeAll(s *Session) {
	if s.events == nil {
		return
	}
	var subscribed []eventKey
	s.events.eachSubscribed(func(aid, iid uint64) {
		subscribed = append(subscribed, eventKey{aid, iid})
	})
	for _, k := range subscribed {
		if loc, ok := srv.cfg.Database.Find(k.aid, k.iid); ok {
			srv.setSubscription(s, loc, false)
		}
	}
	s.events.reset()
}
