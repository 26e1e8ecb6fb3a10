package transport

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/pion/logging"
)

const (
	// readChunk bounds a single read from the connection.
	readChunk = 16 * 1024
	// writeChunk bounds a single write to the connection. It must not exceed
	// readChunk so message-oriented test pipes never truncate.
	writeChunk = 4 * 1024
	// maxInbound is the amount of unread input a stream buffers before its
	// reader stops pulling from the connection.
	maxInbound = 64 * 1024
	// maxOutbound is the amount of unsent output a stream accepts.
	maxOutbound = 64 * 1024
)

// TCP accepts connections from a net.Listener and exposes them as
// non-blocking Streams. Each connection gets a reader and a writer goroutine;
// readiness is posted to the Executor.
type TCP struct {
	listener net.Listener
	exec     Executor
	disp     Dispatcher
	log      logging.LeveledLogger
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending []net.Conn
	posted  bool
	nextID  StreamID
	started bool
	closed  bool
}

// TCPConfig configures the TCP listener.
type TCPConfig struct {
	// Listener is an optional pre-existing Listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":0").
	// Ignored if Listener is provided.
	ListenAddr string

	// Executor runs readiness callbacks. Required.
	Executor Executor

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// ErrNoExecutor is returned when no executor is configured.
var ErrNoExecutor = errors.New("transport: no executor configured")

// NewTCP creates a TCP listener with the given configuration.
func NewTCP(config TCPConfig) (*TCP, error) {
	if config.Executor == nil {
		return nil, ErrNoExecutor
	}

	t := &TCP{
		listener: config.Listener,
		exec:     config.Executor,
	}
	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("transport-tcp")
	}

	if t.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		t.listener = listener
	}
	return t, nil
}

// Start implements Listener.
func (t *TCP) Start(d Dispatcher) error {
	if d == nil {
		return ErrNoDispatcher
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.disp = d
	t.mu.Unlock()

	if t.log != nil {
		t.log.Infof("accepting on %s", t.listener.Addr())
	}

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Accept implements Listener.
func (t *TCP) Accept() (Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if len(t.pending) == 0 {
		return nil, ErrWouldBlock
	}
	conn := t.pending[0]
	t.pending[0] = nil
	t.pending = t.pending[1:]
	t.nextID++
	return newConnStream(conn, t.nextID, t.exec, t.disp, t.log), nil
}

// Close implements Listener.
func (t *TCP) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.closed = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	if t.log != nil {
		t.log.Info("closing listener")
	}
	err := t.listener.Close()
	for _, c := range pending {
		c.Close()
	}
	t.wg.Wait()
	return err
}

// Addr implements Listener.
func (t *TCP) Addr() net.Addr {
	return t.listener.Addr()
}

func (t *TCP) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			if t.log != nil {
				t.log.Warnf("accept failed: %v", err)
			}
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.pending = append(t.pending, conn)
		post := !t.posted
		t.posted = true
		t.mu.Unlock()

		if post {
			t.exec.Post(t.acceptable)
		}
	}
}

func (t *TCP) acceptable() {
	t.mu.Lock()
	t.posted = false
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		t.disp.OnAcceptable()
	}
}

// connStream adapts a blocking net.Conn to the Stream contract.
type connStream struct {
	id   StreamID
	conn net.Conn
	exec Executor
	disp Dispatcher
	log  logging.LeveledLogger

	mu          sync.Mutex
	cond        *sync.Cond
	in          []byte
	inErr       error
	out         []byte
	inflight    int
	writeErr    error
	outClosed   bool
	closed      bool
	interests   Interests
	readPosted  bool
	writePosted bool
}

func newConnStream(conn net.Conn, id StreamID, exec Executor, d Dispatcher, log logging.LeveledLogger) *connStream {
	s := &connStream{
		id:   id,
		conn: conn,
		exec: exec,
		disp: d,
		log:  log,
	}
	s.cond = sync.NewCond(&s.mu)
	go s.readLoop()
	go s.writeLoop()
	return s
}

func (s *connStream) ID() StreamID         { return s.id }
func (s *connStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *connStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if len(s.in) > 0 {
		n := copy(p, s.in)
		s.in = s.in[n:]
		if len(s.in) == 0 {
			s.in = nil
		}
		s.cond.Broadcast()
		return n, nil
	}
	if s.inErr != nil {
		return 0, s.inErr
	}
	return 0, ErrWouldBlock
}

func (s *connStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return 0, ErrClosed
	case s.outClosed:
		return 0, ErrOutputClosed
	case s.writeErr != nil:
		return 0, s.writeErr
	}
	room := maxOutbound - len(s.out) - s.inflight
	if room <= 0 {
		return 0, ErrWouldBlock
	}
	n := min(room, len(p))
	s.out = append(s.out, p[:n]...)
	s.cond.Broadcast()
	return n, nil
}

func (s *connStream) CloseOutput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.outClosed = true
	s.cond.Broadcast()
	return nil
}

func (s *connStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.in = nil
	s.out = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *connStream) UpdateInterests(i Interests) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interests = i
	s.notifyLocked()
}

func (s *connStream) NonAcknowledgedByteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out) + s.inflight
}

func (s *connStream) readLoop() {
	buf := make([]byte, readChunk)
	for {
		s.mu.Lock()
		for len(s.in) >= maxInbound && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		n, err := s.conn.Read(buf)

		s.mu.Lock()
		if n > 0 {
			s.in = append(s.in, buf[:n]...)
		}
		if err != nil && s.inErr == nil {
			if !errors.Is(err, io.EOF) && s.log != nil && !s.closed {
				s.log.Debugf("stream %d: read: %v", s.id, err)
			}
			s.inErr = io.EOF
		}
		s.notifyLocked()
		s.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (s *connStream) writeLoop() {
	for {
		s.mu.Lock()
		for len(s.out) == 0 && !s.outClosed && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.out) == 0 {
			// Output closed and drained.
			s.mu.Unlock()
			if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
				cw.CloseWrite()
			}
			return
		}
		n := min(len(s.out), writeChunk)
		chunk := s.out[:n]
		s.out = s.out[n:]
		if len(s.out) == 0 {
			s.out = nil
		}
		s.inflight = n
		s.mu.Unlock()

		_, err := s.conn.Write(chunk)

		s.mu.Lock()
		s.inflight = 0
		if err != nil && s.writeErr == nil {
			s.writeErr = err
		}
		s.notifyLocked()
		s.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// notifyLocked posts readiness events whose conditions hold. At most one
// event of each kind is in flight.
func (s *connStream) notifyLocked() {
	if s.closed || s.disp == nil {
		return
	}
	if s.interests&InterestReadable != 0 && !s.readPosted && (len(s.in) > 0 || s.inErr != nil) {
		s.readPosted = true
		s.exec.Post(func() { s.deliver(EventReadable) })
	}
	writable := s.writeErr != nil || maxOutbound-len(s.out)-s.inflight > 0
	if s.interests&InterestWritable != 0 && !s.writePosted && writable {
		s.writePosted = true
		s.exec.Post(func() { s.deliver(EventWritable) })
	}
}

func (s *connStream) deliver(ev Event) {
	s.mu.Lock()
	var want Interests
	if ev == EventReadable {
		s.readPosted = false
		want = InterestReadable
	} else {
		s.writePosted = false
		want = InterestWritable
	}
	ok := !s.closed && s.interests&want != 0
	s.mu.Unlock()
	if ok {
		s.disp.OnStreamReady(s.id, ev)
	}
}
