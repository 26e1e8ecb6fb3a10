package ipserver

import (
	"net/http"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/httpreader"
)

// EnterWACMode restarts the server into Wi-Fi Accessory Configuration
// mode. New connections run the MFiSAP security session and the service
// record reports that the accessory is not configured for Wi-Fi.
func (srv *Server) EnterWACMode() error {
	var err error
	srv.loop.Do(func() {
		switch {
		case srv.cfg.WACProvider == nil:
			err = ErrWACUnsupported
		case srv.state != StateRunning || srv.next != nextUndefined:
			err = ErrNotRunning
		case srv.inWACMode || srv.inWACModeTransition:
			err = ErrAlreadyInWACMode
		default:
			if srv.log != nil {
				srv.log.Info("entering WAC mode")
			}
			srv.inWACModeTransition = true
			srv.wantWACMode = true
			srv.restart()
		}
	})
	return err
}

// ExitWACMode restarts the server out of Wi-Fi Accessory Configuration
// mode.
func (srv *Server) ExitWACMode() error {
	var err error
	srv.loop.Do(func() {
		if srv.state != StateRunning || !srv.inWACMode {
			err = ErrNotRunning
			return
		}
		srv.exitWACMode()
	})
	return err
}

func (srv *Server) exitWACMode() {
	if !srv.inWACMode || srv.inWACModeTransition || srv.state != StateRunning {
		return
	}
	if srv.log != nil {
		srv.log.Info("leaving WAC mode")
	}
	srv.loop.Cancel(srv.wacTimer)
	srv.inWACModeTransition = true
	srv.wantWACMode = false
	srv.restart()
}

func (srv *Server) onWACTimeout() {
	if srv.log != nil {
		srv.log.Warn("WAC mode timed out")
	}
	srv.exitWACMode()
}

func handleAuthSetup(srv *Server, s *Session, r *request) {
	if r.contentType != httpreader.ContentTypeOctetStream || s.sec.isSecured {
		s.writeEmpty(http.StatusBadRequest)
		return
	}
	resp, c, err := srv.cfg.WACProvider.AuthSetup(srv.ctx, r.body)
	if err != nil {
		s.warnf("auth-setup: %v", err)
		s.writeEmpty(http.StatusBadRequest)
		return
	}
	s.writeResponse(http.StatusOK, contentTypeOctetStream, resp)
	if c != nil {
		s.sec.wacCipher = c
		s.sec.isSecured = true
		s.sec.check()
		s.logf("secured for configuration")
	}
}

func handleConfig(srv *Server, s *Session, r *request) {
	if err := srv.cfg.WACProvider.ApplyConfiguration(srv.ctx, r.body); err != nil {
		s.warnf("config: %v", err)
		s.writeStatusBody(http.StatusInternalServerError, accessory.StatusFromError(err))
		return
	}
	s.sec.receivedConfig = true
	s.writeEmpty(http.StatusOK)
	s.closeOutputAfterWrite = true
}

func handleConfigured(srv *Server, s *Session, _ *request) {
	if srv.cfg.WACProvider == nil {
		s.writeEmpty(http.StatusNotFound)
		return
	}
	if err := srv.cfg.WACProvider.Configured(srv.ctx); err != nil {
		s.warnf("configured: %v", err)
		s.writeStatusBody(http.StatusInternalServerError, accessory.StatusFromError(err))
		return
	}
	s.sec.receivedConfigured = true
	s.writeEmpty(http.StatusOK)
}
