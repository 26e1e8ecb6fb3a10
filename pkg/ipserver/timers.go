package ipserver

// armWatchdog schedules the next progression check.
func (srv *Server) armWatchdog() {
	srv.watchdogTimer = srv.loop.AfterFunc(srv.cfg.ProgressionTimeout, srv.checkProgression)
}

// checkProgression closes sessions whose peer stopped taking output: bytes
// are outstanding, the outstanding count did not shrink and nothing new was
// written since the previous check.
func (srv *Server) checkProgression() {
	if srv.state == StateIdle {
		return
	}
	srv.pool.each(func(s *Session) {
		nonAck := s.stream.NonAcknowledgedByteCount()
		stalled := nonAck > 0 && nonAck >= s.lastNonAck && !s.didProgress
		s.lastNonAck = nonAck
		s.didProgress = false
		if stalled {
			s.warnf("no progress with %d bytes outstanding", nonAck)
			s.close(closeReasonProgression)
		}
	})
	srv.armWatchdog()
}

// armIdleTimer schedules the next drain check.
func (srv *Server) armIdleTimer() {
	srv.loop.Cancel(srv.idleTimer)
	srv.idleTimer = srv.loop.AfterFunc(srv.cfg.IdleTimeout, srv.checkIdle)
}

// checkIdle closes flagged sessions that became idle or were inactive for
// longer than IdleTimeout.
func (srv *Server) checkIdle() {
	if srv.state != StateStopping {
		return
	}
	now := srv.loop.Now()
	srv.pool.each(func(s *Session) {
		if !s.flaggedForIdle {
			return
		}
		if s.isIdle() || now.Sub(s.stamp) >= srv.cfg.IdleTimeout {
			s.close(closeReasonIdle)
		}
	})
	if srv.live > 0 {
		srv.armIdleTimer()
	}
}
