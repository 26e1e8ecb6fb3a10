// Package ipserver implements the IP transport of a HomeKit accessory
// server: session admission and eviction, HTTP request handling over the
// pairing-secured control channel, characteristic reads, writes and event
// notifications, and the server lifecycle including Wi-Fi Accessory
// Configuration mode.
//
// All protocol state is owned by a single run loop. Public methods are safe
// to call from any goroutine except where noted.
package ipserver

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/bytebuf"
	"github.com/backkem/hap/pkg/discovery"
	"github.com/backkem/hap/pkg/hapjson"
	"github.com/backkem/hap/pkg/runloop"
	"github.com/backkem/hap/pkg/transport"
	"github.com/pion/logging"
)

// Server is a HAP accessory server on an IP transport.
type Server struct {
	cfg     Config
	loop    *runloop.Loop
	log     logging.LeveledLogger
	metrics *metrics

	pool pool
	live int

	state      State
	next       nextState
	stateValue atomic.Int32

	inWACMode           bool
	inWACModeTransition bool
	wantWACMode         bool
	wacValue            atomic.Bool

	listener transport.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	gcTimer       runloop.TimerID
	watchdogTimer runloop.TimerID
	idleTimer     runloop.TimerID
	eventTimer    runloop.TimerID
	wacTimer      runloop.TimerID

	stateNumber  uint16
	configNumber uint32

	// Scratch storage borrowed by one handler invocation at a time.
	scratch *bytebuf.Buffer
	sealBuf []byte
	headBuf []byte
	values  []hapjson.Value

	echoMu sync.Mutex
	echo   echoOrigin
}

// echoOrigin records the characteristic a write handler is changing, so the
// writing session is not notified of its own change.
type echoOrigin struct {
	active  bool
	session uint64
	aid     uint64
	iid     uint64
}

type eventKey struct {
	aid, iid uint64
}

// New creates a server. It does not start listening.
func New(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	srv := &Server{
		cfg:     config,
		loop:    config.Loop,
		metrics: newMetrics(config.MetricsRegisterer),
		pool:    newPool(config.MaxSessions),
		ctx:     context.Background(),
		scratch: config.Allocator.Allocate(config.ScratchBufferSize),
		values:  make([]hapjson.Value, 0, config.MaxReadWriteContexts),
	}
	if config.LoggerFactory != nil {
		srv.log = config.LoggerFactory.NewLogger("ipserver")
	}

	if err := srv.loadNumbers(); err != nil {
		return nil, err
	}
	if srv.log != nil {
		srv.log.Infof("created: c#=%d s#=%d sessions=%d events=%s",
			srv.configNumber, srv.stateNumber, config.MaxSessions, config.EventStorage)
	}
	return srv, nil
}

// loadNumbers restores the state number and derives the configuration
// number, which changes whenever the database layout changes.
func (srv *Server) loadNumbers() error {
	st := srv.cfg.Storage
	sn, err := st.LoadStateNumber()
	if err != nil {
		return fmt.Errorf("load state number: %w", err)
	}
	if sn == 0 {
		sn = 1
	}
	srv.stateNumber = sn

	if srv.cfg.TXT.ConfigNumber != 0 {
		srv.configNumber = srv.cfg.TXT.ConfigNumber
		return nil
	}
	cn, stored, err := st.LoadConfigNumber()
	if err != nil {
		return fmt.Errorf("load config number: %w", err)
	}
	hash := databaseHash(srv.cfg.Database)
	if cn == 0 || stored != hash {
		cn++
		if cn == 0 {
			cn = 1
		}
		if err := st.SaveConfigNumber(cn, hash); err != nil {
			return fmt.Errorf("save config number: %w", err)
		}
	}
	srv.configNumber = cn
	return nil
}

// databaseHash digests the attribute layout of the database.
func databaseHash(db *accessory.Database) [32]byte {
	h := sha256.New()
	for _, a := range db.Accessories() {
		fmt.Fprintf(h, "a%d\n", a.AID)
		for _, svc := range a.Services {
			fmt.Fprintf(h, "s%d %s %v %v %v\n", svc.IID, svc.Type, svc.Primary, svc.Hidden, svc.Linked)
			for _, c := range svc.Characteristics {
				fmt.Fprintf(h, "c%d %s %s %v\n", c.IID, c.Type, c.Format, c.Permissions())
			}
		}
	}
	var sum [32]byte
	h.Sum(sum[:0])
	return sum
}

// Loop returns the run loop owning the server.
func (srv *Server) Loop() *runloop.Loop { return srv.loop }

// State returns the current lifecycle state.
func (srv *Server) State() State { return State(srv.stateValue.Load()) }

// IsInWACMode reports whether the server runs in Wi-Fi configuration mode.
func (srv *Server) IsInWACMode() bool { return srv.wacValue.Load() }

// Addr returns the listening address, or nil when not running.
func (srv *Server) Addr() net.Addr {
	var addr net.Addr
	srv.loop.Do(func() {
		if srv.listener != nil {
			addr = srv.listener.Addr()
		}
	})
	return addr
}

// NumSessions returns the number of open sessions.
func (srv *Server) NumSessions() int {
	var n int
	srv.loop.Do(func() { n = srv.live })
	return n
}

// StateNumber returns the current discovery state number.
func (srv *Server) StateNumber() uint16 {
	var n uint16
	srv.loop.Do(func() { n = srv.stateNumber })
	return n
}

// ConfigNumber returns the discovery configuration number.
func (srv *Server) ConfigNumber() uint32 { return srv.configNumber }

// Start opens the listener and publishes the service.
func (srv *Server) Start() error {
	var err error
	srv.loop.Do(func() { err = srv.start() })
	return err
}

func (srv *Server) start() error {
	if srv.state != StateIdle {
		return ErrNotIdle
	}
	l, err := srv.cfg.Listen()
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if err := l.Start(dispatcher{srv}); err != nil {
		_ = l.Close()
		return fmt.Errorf("start listener: %w", err)
	}
	srv.listener = l
	srv.ctx, srv.cancel = context.WithCancel(context.Background())
	srv.setState(StateRunning, nextUndefined)
	srv.publish()
	srv.armWatchdog()
	if srv.log != nil {
		srv.log.Infof("running on %v", l.Addr())
	}
	srv.notifyState()
	return nil
}

// Stop closes the listener, drains all sessions and withdraws the service.
// The server is Idle once the last session closed; OnStateChanged reports
// it.
func (srv *Server) Stop() error {
	var err error
	srv.loop.Do(func() { err = srv.stop() })
	return err
}

func (srv *Server) stop() error {
	switch {
	case srv.state == StateIdle:
		return ErrNotRunning
	case srv.state == StateStopping && srv.next == nextIdle:
		return nil
	case srv.state == StateStopping:
		// A restart is in progress; finish it as a stop instead.
		srv.setState(StateStopping, nextIdle)
		srv.closeListener()
		srv.scheduleGC()
		return nil
	}
	srv.setState(StateStopping, nextIdle)
	srv.closeListener()
	srv.drain()
	return nil
}

// restart drains all sessions and comes back Running. The listener stays
// open; connections accepted meanwhile are flagged like the drained ones.
func (srv *Server) restart() {
	if srv.state != StateRunning {
		return
	}
	srv.setState(StateStopping, nextRunning)
	srv.drain()
}

// drain closes idle sessions and flags the others for closure once idle or
// after IdleTimeout.
func (srv *Server) drain() {
	srv.loop.Cancel(srv.eventTimer)
	srv.pool.each(func(s *Session) {
		if s.isIdle() {
			s.close(closeReasonStopped)
			return
		}
		s.flaggedForIdle = true
	})
	srv.armIdleTimer()
	srv.scheduleGC()
}

func (srv *Server) closeListener() {
	if srv.listener == nil {
		return
	}
	if err := srv.listener.Close(); err != nil && srv.log != nil {
		srv.log.Warnf("close listener: %v", err)
	}
	srv.listener = nil
}

// finishTransition completes a drain. Called by garbage collection once no
// session is left.
func (srv *Server) finishTransition() {
	srv.loop.Cancel(srv.idleTimer)
	switch srv.next {
	case nextIdle:
		srv.setState(StateIdle, nextUndefined)
		srv.loop.Cancel(srv.watchdogTimer)
		srv.loop.Cancel(srv.eventTimer)
		srv.loop.Cancel(srv.wacTimer)
		srv.inWACMode, srv.inWACModeTransition, srv.wantWACMode = false, false, false
		srv.wacValue.Store(false)
		if srv.cfg.Advertiser != nil {
			if err := srv.cfg.Advertiser.Withdraw(); err != nil && srv.log != nil {
				srv.log.Warnf("withdraw service: %v", err)
			}
		}
		if srv.cancel != nil {
			srv.cancel()
		}
		if srv.log != nil {
			srv.log.Info("stopped")
		}
	case nextRunning:
		srv.setState(StateRunning, nextUndefined)
		srv.inWACMode = srv.wantWACMode
		srv.inWACModeTransition = false
		srv.wacValue.Store(srv.inWACMode)
		if srv.inWACMode {
			srv.wacTimer = srv.loop.AfterFunc(srv.cfg.WACModeTimeout, srv.onWACTimeout)
		}
		srv.publish()
		if srv.log != nil {
			srv.log.Infof("restarted (wac=%v)", srv.inWACMode)
		}
		srv.acceptPending()
	default:
		panic("ipserver: transition finished without a next state")
	}
	srv.notifyState()
}

// setState moves the state machine and asserts that a next state is only
// pending while stopping.
func (srv *Server) setState(state State, next nextState) {
	if next != nextUndefined && state != StateStopping {
		panic(fmt.Sprintf("ipserver: next state %s while %s", next, state))
	}
	srv.state = state
	srv.next = next
	srv.stateValue.Store(int32(state))
}

func (srv *Server) notifyState() {
	if srv.cfg.OnStateChanged != nil {
		srv.cfg.OnStateChanged(srv.state)
	}
}

// txt builds the current service record.
func (srv *Server) txt() discovery.TXT {
	txt := srv.cfg.TXT
	txt.ConfigNumber = srv.configNumber
	txt.StateNumber = srv.stateNumber
	txt.Status = 0
	if !srv.cfg.SecurityProvider.IsPaired() {
		txt.Status |= discovery.StatusNotPaired
	}
	if srv.inWACMode {
		txt.Status |= discovery.StatusNotConfiguredForWiFi
	}
	return txt
}

// publish advertises the current service record.
func (srv *Server) publish() {
	if srv.cfg.Advertiser == nil || srv.state != StateRunning {
		return
	}
	if err := srv.cfg.Advertiser.Advertise(srv.txt()); err != nil && srv.log != nil {
		srv.log.Warnf("advertise: %v", err)
	}
}

// bumpStateNumber increments and persists the state number and
// republishes the service.
func (srv *Server) bumpStateNumber() {
	srv.stateNumber = discovery.NextStateNumber(srv.stateNumber)
	if err := srv.cfg.Storage.SaveStateNumber(srv.stateNumber); err != nil && srv.log != nil {
		srv.log.Warnf("save state number: %v", err)
	}
	srv.publish()
}

// dispatcher receives transport readiness on the loop.
type dispatcher struct {
	srv *Server
}

func (d dispatcher) OnAcceptable() {
	d.srv.acceptPending()
}

func (d dispatcher) OnStreamReady(id transport.StreamID, ev transport.Event) {
	s := d.srv.pool.byStreamID(id)
	if s == nil || s.closed {
		return
	}
	switch ev {
	case transport.EventReadable:
		s.handleReadable()
	case transport.EventWritable:
		s.handleWritable()
	}
}

// SetSessionStreaming marks a session as carrying an active media stream.
// Streaming sessions are never evicted.
func (srv *Server) SetSessionStreaming(sessionID uint64, streaming bool) error {
	var err error
	srv.loop.Do(func() {
		s := srv.pool.lookup(sessionID)
		if s == nil {
			err = ErrUnknownSession
			return
		}
		s.streaming = streaming
	})
	return err
}
