package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
)

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers queued writes.
	// Default: 1ms
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe is an in-memory connection between two endpoints built on pion's
// test.Bridge. Every Write on one side is delivered as one Read on the other.
//
// By default the pipe delivers in a background goroutine. Disable
// AutoProcess and call Tick or Process to control delivery order.
type Pipe struct {
	bridge *test.Bridge

	mu              sync.Mutex
	closed          bool
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}
	if p.autoProcess {
		p.startAutoProcess()
	}
	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// Conn0 returns the connection for endpoint 0.
func (p *Pipe) Conn0() net.Conn {
	return &pipeConn{Conn: p.bridge.GetConn0(), pipe: p, local: PipeAddr{ID: 0}, remote: PipeAddr{ID: 1}}
}

// Conn1 returns the connection for endpoint 1.
func (p *Pipe) Conn1() net.Conn {
	return &pipeConn{Conn: p.bridge.GetConn1(), pipe: p, local: PipeAddr{ID: 1}, remote: PipeAddr{ID: 0}}
}

// Tick delivers one queued write in each direction and returns the number
// delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued writes.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close closes both endpoints and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// PipeAddr implements net.Addr for pipe endpoints.
type PipeAddr struct {
	ID int // Endpoint ID
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

// String returns a string representation of the address.
func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d", a.ID) }

// pipeConn gives a bridge connection stable pipe addresses. Closing either
// end closes the whole pipe, so the peer reads end of stream.
type pipeConn struct {
	net.Conn
	pipe          *Pipe
	local, remote net.Addr
}

func (c *pipeConn) Close() error { return c.pipe.Close() }

func (c *pipeConn) LocalAddr() net.Addr  { return c.local }
func (c *pipeConn) RemoteAddr() net.Addr { return c.remote }

// PipeListener is a Listener whose streams run over Pipes. Dial creates a
// new Pipe per connection and returns the controller end.
type PipeListener struct {
	exec Executor
	log  logging.LeveledLogger

	mu      sync.Mutex
	disp    Dispatcher
	pending []net.Conn
	nextID  StreamID
	nextEP  int
	posted  bool
	closed  bool
}

// NewPipeListener creates a pipe listener posting readiness to exec.
func NewPipeListener(exec Executor, loggerFactory logging.LoggerFactory) *PipeListener {
	l := &PipeListener{exec: exec}
	if loggerFactory != nil {
		l.log = loggerFactory.NewLogger("transport-pipe")
	}
	return l
}

// Dial connects a new controller to the listener.
func (l *PipeListener) Dial() (net.Conn, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	p := NewPipe()
	l.nextEP += 2
	client := &pipeConn{Conn: p.bridge.GetConn0(), pipe: p, local: PipeAddr{ID: l.nextEP}, remote: PipeAddr{ID: 0}}
	server := &pipeConn{Conn: p.bridge.GetConn1(), pipe: p, local: PipeAddr{ID: 0}, remote: PipeAddr{ID: l.nextEP}}
	l.pending = append(l.pending, server)
	post := !l.posted && l.disp != nil
	if post {
		l.posted = true
	}
	l.mu.Unlock()

	if post {
		l.exec.Post(l.acceptable)
	}
	return client, nil
}

func (l *PipeListener) acceptable() {
	l.mu.Lock()
	l.posted = false
	d, closed := l.disp, l.closed
	l.mu.Unlock()
	if !closed {
		d.OnAcceptable()
	}
}

// Start implements Listener.
func (l *PipeListener) Start(d Dispatcher) error {
	if d == nil {
		return ErrNoDispatcher
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.disp != nil {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.disp = d
	post := len(l.pending) > 0
	l.posted = post
	l.mu.Unlock()
	if post {
		l.exec.Post(l.acceptable)
	}
	return nil
}

// Accept implements Listener.
func (l *PipeListener) Accept() (Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if len(l.pending) == 0 {
		return nil, ErrWouldBlock
	}
	conn := l.pending[0]
	l.pending = l.pending[1:]
	l.nextID++
	return newConnStream(conn, l.nextID, l.exec, l.disp, l.log), nil
}

// Close implements Listener. Connections not yet accepted are closed.
func (l *PipeListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		c.Close()
	}
	return nil
}

// Addr implements Listener.
func (l *PipeListener) Addr() net.Addr { return PipeAddr{ID: 0} }
