// Package integration contains end-to-end tests that drive example
// accessories over real TCP connections.
package integration

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/backkem/hap/pkg/security"
)

// ReadTimeout bounds every blocking read of a Controller.
const ReadTimeout = 5 * time.Second

// Controller is a minimal HAP controller speaking the pre-shared key pairing
// protocol.
type Controller struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader

	cipher *security.FrameCipher
	key    []byte
}

// Message is a response or an event notification.
type Message struct {
	Event  bool
	Code   int
	Header http.Header
	Body   []byte
}

// Dial connects a controller to addr.
func Dial(t *testing.T, addr string, key []byte) *Controller {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, ReadTimeout)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &Controller{t: t, conn: conn, br: bufio.NewReader(conn), key: key}
}

// PairSetup presents the setup code.
func (c *Controller) PairSetup(code string) Message {
	c.t.Helper()
	return c.RoundTrip(http.MethodPost, "/pair-setup", "application/pairing+tlv8", []byte(code))
}

// PairVerify establishes the session keys. Everything after it is encrypted.
func (c *Controller) PairVerify() {
	c.t.Helper()
	nonce := make([]byte, security.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		c.t.Fatal(err)
	}
	resp := c.RoundTrip(http.MethodPost, "/pair-verify", "application/pairing+tlv8", nonce)
	if resp.Code != http.StatusOK {
		c.t.Fatalf("pair-verify: status %d", resp.Code)
	}
	secret, err := security.PSKSharedSecret(c.key, nonce, resp.Body)
	if err != nil {
		c.t.Fatalf("PSKSharedSecret() error = %v", err)
	}
	c.cipher, err = security.NewControlCipher(secret, security.RoleController)
	if err != nil {
		c.t.Fatalf("NewControlCipher() error = %v", err)
	}
	c.br = bufio.NewReader(&frameReader{conn: c.conn, cipher: c.cipher})
}

// Send writes one request.
func (c *Controller) Send(method, uri, contentType string, body []byte) {
	c.t.Helper()
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\nHost: accessory\r\n", method, uri)
	if contentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	}
	if method != http.MethodGet {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	b.WriteString("\r\n")
	b.Write(body)

	p := b.Bytes()
	if c.cipher != nil {
		var err error
		if p, err = c.cipher.Encrypt(nil, p); err != nil {
			c.t.Fatalf("Encrypt() error = %v", err)
		}
	}
	if _, err := c.conn.Write(p); err != nil {
		c.t.Fatalf("Write() error = %v", err)
	}
}

// Next reads the next message.
func (c *Controller) Next() Message {
	c.t.Helper()
	if err := c.conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		c.t.Fatal(err)
	}
	const eventProto = "EVENT/1.0"
	event := false
	if p, err := c.br.Peek(len(eventProto)); err == nil && string(p) == eventProto {
		event = true
		// net/http only parses HTTP versions.
		c.br.Discard(len(eventProto))
		c.br = bufio.NewReader(io.MultiReader(strings.NewReader("HTTP/1.1"), c.br))
	}
	resp, err := http.ReadResponse(c.br, nil)
	if err != nil {
		c.t.Fatalf("ReadResponse() error = %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read body error = %v", err)
	}
	return Message{Event: event, Code: resp.StatusCode, Header: resp.Header, Body: body}
}

// RoundTrip sends a request and returns the next response, skipping events.
func (c *Controller) RoundTrip(method, uri, contentType string, body []byte) Message {
	c.t.Helper()
	c.Send(method, uri, contentType, body)
	for {
		m := c.Next()
		if !m.Event {
			return m
		}
	}
}

// frameReader decrypts the control channel.
type frameReader struct {
	conn   net.Conn
	cipher *security.FrameCipher
	raw    []byte
	plain  []byte
}

func (r *frameReader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		pt, n, err := r.cipher.Decrypt(r.raw)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			r.plain = append(r.plain[:0], pt...)
			r.raw = r.raw[n:]
			continue
		}
		buf := make([]byte, 4096)
		m, err := r.conn.Read(buf)
		r.raw = append(r.raw, buf[:m]...)
		if err != nil && m == 0 {
			return 0, err
		}
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}
