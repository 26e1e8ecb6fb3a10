package transport

import (
	"io"
	"net"
	"strconv"
	"sync"
)

// MemListener is a Listener with synchronous in-memory streams and no
// goroutines. Readiness is posted to the Executor as soon as a peer acts, so
// with a manual run loop every step of a test is deterministic.
type MemListener struct {
	exec Executor

	mu      sync.Mutex
	disp    Dispatcher
	pending []*memStream
	nextID  StreamID
	posted  bool
	closed  bool
}

// NewMemListener creates a listener posting readiness to exec.
func NewMemListener(exec Executor) *MemListener {
	return &MemListener{exec: exec}
}

// Dial connects a new controller.
func (l *MemListener) Dial() (*MemConn, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	l.nextID++
	s := &memStream{
		id:       l.nextID,
		listener: l,
		remote:   memAddr(l.nextID),
		outLimit: maxOutbound,
	}
	l.pending = append(l.pending, s)
	post := l.disp != nil && !l.posted
	if post {
		l.posted = true
	}
	l.mu.Unlock()

	if post {
		l.exec.Post(l.acceptable)
	}
	return &MemConn{s: s}, nil
}

func (l *MemListener) acceptable() {
	l.mu.Lock()
	l.posted = false
	d, closed := l.disp, l.closed
	l.mu.Unlock()
	if !closed {
		d.OnAcceptable()
	}
}

// Start implements Listener.
func (l *MemListener) Start(d Dispatcher) error {
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
func (l *MemListener) Accept() (Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if len(l.pending) == 0 {
		return nil, ErrWouldBlock
	}
	s := l.pending[0]
	l.pending = l.pending[1:]
	s.accepted = true
	return s, nil
}

// Close implements Listener. Streams not yet accepted are closed.
func (l *MemListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, s := range pending {
		s.Close()
	}
	return nil
}

// Addr implements Listener.
func (l *MemListener) Addr() net.Addr { return memAddr(0) }

// IsClosed reports whether Close was called.
func (l *MemListener) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type memAddr StreamID

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return "mem:" + strconv.FormatUint(uint64(a), 10) }

type memStream struct {
	id       StreamID
	listener *MemListener
	remote   net.Addr

	mu          sync.Mutex
	accepted    bool
	in          []byte
	inEOF       bool
	out         []byte
	outLimit    int
	outClosed   bool
	closed      bool
	interests   Interests
	readPosted  bool
	writePosted bool
}

func (s *memStream) ID() StreamID         { return s.id }
func (s *memStream) RemoteAddr() net.Addr { return s.remote }

func (s *memStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if len(s.in) > 0 {
		n := copy(p, s.in)
		s.in = s.in[n:]
		return n, nil
	}
	if s.inEOF {
		return 0, io.EOF
	}
	return 0, ErrWouldBlock
}

func (s *memStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return 0, ErrClosed
	case s.outClosed:
		return 0, ErrOutputClosed
	}
	room := s.outLimit - len(s.out)
	if room <= 0 {
		return 0, ErrWouldBlock
	}
	n := min(room, len(p))
	s.out = append(s.out, p[:n]...)
	return n, nil
}

func (s *memStream) CloseOutput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.outClosed = true
	return nil
}

func (s *memStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.in = nil
	return nil
}

func (s *memStream) UpdateInterests(i Interests) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interests = i
	s.notifyLocked()
}

func (s *memStream) NonAcknowledgedByteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

func (s *memStream) notifyLocked() {
	if s.closed || !s.accepted {
		return
	}
	if s.interests&InterestReadable != 0 && !s.readPosted && (len(s.in) > 0 || s.inEOF) {
		s.readPosted = true
		s.listener.exec.Post(func() { s.deliver(EventReadable) })
	}
	if s.interests&InterestWritable != 0 && !s.writePosted && len(s.out) < s.outLimit {
		s.writePosted = true
		s.listener.exec.Post(func() { s.deliver(EventWritable) })
	}
}

func (s *memStream) deliver(ev Event) {
	s.mu.Lock()
	want := InterestWritable
	if ev == EventReadable {
		s.readPosted = false
		want = InterestReadable
	} else {
		s.writePosted = false
	}
	ok := !s.closed && s.interests&want != 0
	s.mu.Unlock()
	if ok {
		s.listener.disp.OnStreamReady(s.id, ev)
	}
}

// MemConn is the controller end of a MemListener stream.
type MemConn struct {
	s *memStream
}

// Write delivers p to the accessory.
func (c *MemConn) Write(p []byte) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.closed {
		return 0, ErrClosed
	}
	if c.s.inEOF {
		return 0, ErrOutputClosed
	}
	c.s.in = append(c.s.in, p...)
	c.s.notifyLocked()
	return len(p), nil
}

// CloseWrite signals end of stream to the accessory.
func (c *MemConn) CloseWrite() {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.inEOF = true
	c.s.notifyLocked()
}

// ReadAll takes everything the accessory has written so far.
func (c *MemConn) ReadAll() []byte {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	out := c.s.out
	c.s.out = nil
	c.s.notifyLocked()
	return out
}

// Pending returns the number of bytes written by the accessory and not yet
// read.
func (c *MemConn) Pending() int {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return len(c.s.out)
}

// SetOutputLimit bounds how much unread accessory output the stream holds
// before Write reports ErrWouldBlock.
func (c *MemConn) SetOutputLimit(n int) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.outLimit = n
	c.s.notifyLocked()
}

// Closed reports whether the accessory closed the stream.
func (c *MemConn) Closed() bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.closed
}

// OutputClosed reports whether the accessory half-closed its output.
func (c *MemConn) OutputClosed() bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.outClosed
}

// Interests returns the accessory's current interest set.
func (c *MemConn) Interests() Interests {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.interests
}
