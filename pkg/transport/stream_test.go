package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// loopExecutor runs posted callbacks on one goroutine, like the run loop.
type loopExecutor struct {
	ch   chan func()
	done chan struct{}
}

func newLoopExecutor(t *testing.T) *loopExecutor {
	e := &loopExecutor{ch: make(chan func(), 256), done: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-e.ch:
				fn()
			case <-e.done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(e.done) })
	return e
}

func (e *loopExecutor) Post(fn func()) { e.ch <- fn }

// queueExecutor holds posted callbacks until run is called.
type queueExecutor struct {
	mu sync.Mutex
	q  []func()
}

func (e *queueExecutor) Post(fn func()) {
	e.mu.Lock()
	e.q = append(e.q, fn)
	e.mu.Unlock()
}

func (e *queueExecutor) run() int {
	n := 0
	for {
		e.mu.Lock()
		q := e.q
		e.q = nil
		e.mu.Unlock()
		if len(q) == 0 {
			return n
		}
		for _, fn := range q {
			fn()
		}
		n += len(q)
	}
}

type readyEvent struct {
	id StreamID
	ev Event
}

type recordingDispatcher struct {
	ready      chan readyEvent
	acceptable chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{
		ready:      make(chan readyEvent, 64),
		acceptable: make(chan struct{}, 64),
	}
}

func (d *recordingDispatcher) OnStreamReady(id StreamID, ev Event) {
	d.ready <- readyEvent{id, ev}
}

func (d *recordingDispatcher) OnAcceptable() {
	d.acceptable <- struct{}{}
}

func (d *recordingDispatcher) waitAcceptable(t *testing.T) {
	t.Helper()
	select {
	case <-d.acceptable:
	case <-time.After(2 * time.Second):
		t.Fatal("no acceptable event")
	}
}

func (d *recordingDispatcher) waitEvent(t *testing.T, want Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-d.ready:
			if got.ev == want {
				return
			}
		case <-deadline:
			t.Fatalf("no %v event", want)
		}
	}
}

// readAvailable reads from s until ErrWouldBlock or n bytes arrived.
func readUntil(t *testing.T, d *recordingDispatcher, s Stream, n int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 1024)
	for len(out) < n {
		k, err := s.Read(buf)
		out = append(out, buf[:k]...)
		if errors.Is(err, ErrWouldBlock) {
			d.waitEvent(t, EventReadable)
			s.UpdateInterests(InterestReadable)
			continue
		}
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
	}
	return out
}

func TestNewTCP(t *testing.T) {
	t.Run("without executor", func(t *testing.T) {
		if _, err := NewTCP(TCPConfig{ListenAddr: "127.0.0.1:0"}); err != ErrNoExecutor {
			t.Errorf("NewTCP() error = %v, want %v", err, ErrNoExecutor)
		}
	})

	t.Run("with injected listener", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Listen() error = %v", err)
		}
		tcp, err := NewTCP(TCPConfig{Listener: listener, Executor: &queueExecutor{}})
		if err != nil {
			t.Fatalf("NewTCP() error = %v", err)
		}
		defer tcp.Close()
		if tcp.Addr() != listener.Addr() {
			t.Error("NewTCP() did not use injected listener")
		}
	})
}

func TestTCP_StartClose(t *testing.T) {
	tcp, err := NewTCP(TCPConfig{ListenAddr: "127.0.0.1:0", Executor: &queueExecutor{}})
	if err != nil {
		t.Fatalf("NewTCP() error = %v", err)
	}
	if err := tcp.Start(nil); err != ErrNoDispatcher {
		t.Errorf("Start(nil) error = %v, want %v", err, ErrNoDispatcher)
	}
	d := newRecordingDispatcher()
	if err := tcp.Start(d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := tcp.Start(d); err != ErrAlreadyStarted {
		t.Errorf("Start() second call error = %v, want %v", err, ErrAlreadyStarted)
	}
	if _, err := tcp.Accept(); err != ErrWouldBlock {
		t.Errorf("Accept() error = %v, want %v", err, ErrWouldBlock)
	}
	if err := tcp.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := tcp.Close(); err != ErrClosed {
		t.Errorf("Close() second call error = %v, want %v", err, ErrClosed)
	}
	if _, err := tcp.Accept(); err != ErrClosed {
		t.Errorf("Accept() after Close error = %v, want %v", err, ErrClosed)
	}
}

func TestTCP_Exchange(t *testing.T) {
	exec := newLoopExecutor(t)
	d := newRecordingDispatcher()
	tcp, err := NewTCP(TCPConfig{ListenAddr: "127.0.0.1:0", Executor: exec})
	if err != nil {
		t.Fatalf("NewTCP() error = %v", err)
	}
	defer tcp.Close()
	if err := tcp.Start(d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	client, err := net.Dial("tcp", tcp.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	d.waitAcceptable(t)
	s, err := tcp.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer s.Close()
	s.UpdateInterests(InterestReadable)

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client Write() error = %v", err)
	}
	if got := readUntil(t, d, s, 4); string(got) != "ping" {
		t.Errorf("Read() = %q, want ping", got)
	}

	if n, err := s.Write([]byte("pong")); n != 4 || err != nil {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if err := s.CloseOutput(); err != nil {
		t.Fatalf("CloseOutput() error = %v", err)
	}
	if _, err := s.Write([]byte("x")); err != ErrOutputClosed {
		t.Errorf("Write() after CloseOutput error = %v, want %v", err, ErrOutputClosed)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := io.ReadAll(client)
	if err != nil {
		t.Fatalf("client ReadAll() error = %v", err)
	}
	if string(got) != "pong" {
		t.Errorf("client read %q, want pong", got)
	}

	client.Close()
	buf := make([]byte, 8)
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := s.Read(buf)
		if err == io.EOF {
			break
		}
		if err != ErrWouldBlock {
			t.Fatalf("Read() error = %v, want io.EOF", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("no end of stream")
		}
		d.waitEvent(t, EventReadable)
		s.UpdateInterests(InterestReadable)
	}
}

func TestConnStream_Backpressure(t *testing.T) {
	exec := newLoopExecutor(t)
	d := newRecordingDispatcher()
	client, server := net.Pipe()
	defer client.Close()

	s := newConnStream(server, 1, exec, d, nil)
	defer s.Close()

	n, err := s.Write(make([]byte, maxOutbound+100))
	if err != nil || n != maxOutbound {
		t.Fatalf("Write() = %d, %v, want %d", n, err, maxOutbound)
	}
	if _, err := s.Write([]byte{1}); err != ErrWouldBlock {
		t.Errorf("Write() on full stream error = %v, want %v", err, ErrWouldBlock)
	}
	if got := s.NonAcknowledgedByteCount(); got != maxOutbound {
		t.Errorf("NonAcknowledgedByteCount() = %d, want %d", got, maxOutbound)
	}

	s.UpdateInterests(InterestWritable)
	buf := make([]byte, writeChunk)
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("client read error = %v", err)
	}
	d.waitEvent(t, EventWritable)
	if n, err := s.Write([]byte{1}); n != 1 || err != nil {
		t.Errorf("Write() after drain = %d, %v", n, err)
	}
}

func TestConnStream_ClosedStream(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	s := newConnStream(server, 1, &queueExecutor{}, newRecordingDispatcher(), nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != ErrClosed {
		t.Errorf("Close() second call error = %v, want %v", err, ErrClosed)
	}
	if _, err := s.Read(make([]byte, 1)); err != ErrClosed {
		t.Errorf("Read() error = %v, want %v", err, ErrClosed)
	}
	if _, err := s.Write([]byte{1}); err != ErrClosed {
		t.Errorf("Write() error = %v, want %v", err, ErrClosed)
	}
}

func TestPipeListener(t *testing.T) {
	exec := newLoopExecutor(t)
	d := newRecordingDispatcher()
	l := NewPipeListener(exec, nil)
	defer l.Close()

	// Dialing before Start is delivered once the listener starts.
	client, err := l.Dial()
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if err := l.Start(d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	d.waitAcceptable(t)

	s, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	s.UpdateInterests(InterestReadable)
	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("client Write() error = %v", err)
	}
	if got := readUntil(t, d, s, 5); string(got) != "hello" {
		t.Errorf("Read() = %q", got)
	}

	if _, err := s.Write([]byte("world")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, 64)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	if err != nil || string(buf[:n]) != "world" {
		t.Errorf("client Read() = %q, %v", buf[:n], err)
	}
	if s.RemoteAddr().Network() != "pipe" {
		t.Errorf("RemoteAddr() = %v", s.RemoteAddr())
	}
	s.Close()
}

func TestMemListener(t *testing.T) {
	exec := &queueExecutor{}
	d := newRecordingDispatcher()
	l := NewMemListener(exec)
	if err := l.Start(d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	c, _ := l.Dial()
	if len(d.acceptable) != 0 {
		t.Fatal("OnAcceptable ran before the executor")
	}
	exec.run()
	if len(d.acceptable) != 1 {
		t.Fatalf("acceptable events = %d, want 1", len(d.acceptable))
	}
	s, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if _, err := l.Accept(); err != ErrWouldBlock {
		t.Errorf("Accept() error = %v, want %v", err, ErrWouldBlock)
	}

	// Interest set after data arrived still produces an event.
	c.Write([]byte("abc"))
	exec.run()
	if len(d.ready) != 0 {
		t.Fatal("event without interest")
	}
	s.UpdateInterests(InterestReadable)
	exec.run()
	if got := <-d.ready; got.id != s.ID() || got.ev != EventReadable {
		t.Errorf("event = %+v", got)
	}

	buf := make([]byte, 8)
	if n, _ := s.Read(buf); string(buf[:n]) != "abc" {
		t.Errorf("Read() = %q", buf[:n])
	}
	if _, err := s.Read(buf); err != ErrWouldBlock {
		t.Errorf("Read() error = %v, want %v", err, ErrWouldBlock)
	}
	c.CloseWrite()
	if _, err := s.Read(buf); err != io.EOF {
		t.Errorf("Read() error = %v, want io.EOF", err)
	}

	c.SetOutputLimit(4)
	if n, err := s.Write([]byte("abcdef")); n != 4 || err != nil {
		t.Errorf("Write() = %d, %v, want 4", n, err)
	}
	if _, err := s.Write([]byte("g")); err != ErrWouldBlock {
		t.Errorf("Write() error = %v, want %v", err, ErrWouldBlock)
	}
	if got := s.NonAcknowledgedByteCount(); got != 4 {
		t.Errorf("NonAcknowledgedByteCount() = %d, want 4", got)
	}
	if got := string(c.ReadAll()); got != "abcd" {
		t.Errorf("ReadAll() = %q", got)
	}

	s.Close()
	if !c.Closed() {
		t.Error("Closed() = false after Close")
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestInterestsString(t *testing.T) {
	tests := []struct {
		in   Interests
		want string
	}{
		{InterestNone, "none"},
		{InterestReadable, "readable"},
		{InterestWritable, "writable"},
		{InterestReadable | InterestWritable, "readable|writable"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}
