package ipserver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/discovery"
	"github.com/backkem/hap/pkg/runloop"
	"github.com/backkem/hap/pkg/security"
	"github.com/backkem/hap/pkg/transport"
)

var (
	pskKey    = []byte("0123456789abcdef0123456789abcdef")
	setupCode = []byte("111-22-333")
)

// bulb is the test accessory: a lightbulb with a stateless switch.
type bulb struct {
	on         bool
	brightness int32
	label      string
	readErr    error
	writeErr   error

	writes       int
	identifies   int
	subscribes   int
	unsubscribes int
	lastAuthData []byte
	lastRemote   bool

	// onWrite runs inside the write handler of 1.10.
	onWrite func(req accessory.WriteRequest)
}

func (b *bulb) database(t *testing.T, tweak func(c *accessory.Characteristic)) *accessory.Database {
	t.Helper()
	sub := func(context.Context, accessory.SubscriptionRequest) { b.subscribes++ }
	unsub := func(context.Context, accessory.SubscriptionRequest) { b.unsubscribes++ }

	chars := []*accessory.Characteristic{
		{
			IID: 2, Type: accessory.CharacteristicTypeIdentify, Format: accessory.FormatBool,
			Properties: accessory.Properties{Writable: true},
			Write: func(context.Context, accessory.WriteRequest, any) error {
				b.identifies++
				return nil
			},
		},
		{
			IID: 3, Type: accessory.CharacteristicTypeName, Format: accessory.FormatString,
			Properties: accessory.Properties{Readable: true},
			Read: func(context.Context, accessory.ReadRequest) (any, error) {
				return "Bulb", nil
			},
		},
		{
			IID: 10, Type: accessory.CharacteristicTypeOn, Format: accessory.FormatBool,
			Properties: accessory.Properties{Readable: true, Writable: true, SupportsEventNotification: true},
			Read: func(context.Context, accessory.ReadRequest) (any, error) {
				if b.readErr != nil {
					return nil, b.readErr
				}
				return b.on, nil
			},
			Write: func(_ context.Context, req accessory.WriteRequest, v any) error {
				if b.writeErr != nil {
					return b.writeErr
				}
				b.writes++
				b.on = v.(bool)
				b.lastAuthData = req.AuthorizationData
				b.lastRemote = req.Remote
				if b.onWrite != nil {
					b.onWrite(req)
				}
				return nil
			},
			Subscribe:   sub,
			Unsubscribe: unsub,
		},
		{
			IID: 11, Type: accessory.CharacteristicTypeBrightness, Format: accessory.FormatInt,
			Unit:        accessory.UnitPercentage,
			Properties:  accessory.Properties{Readable: true, Writable: true, SupportsEventNotification: true},
			Constraints: accessory.Constraints{Range: &accessory.Range{Min: 0, Max: 100, Step: 1}},
			Read: func(context.Context, accessory.ReadRequest) (any, error) {
				return b.brightness, nil
			},
			Write: func(_ context.Context, _ accessory.WriteRequest, v any) error {
				b.brightness = v.(int32)
				return nil
			},
		},
		{
			IID: 12, Type: accessory.HAPType(0x1E), Format: accessory.FormatUInt8,
			Properties:  accessory.Properties{Writable: true, RequiresTimedWrite: true},
			Constraints: accessory.Constraints{ValidValues: []uint8{0, 1}},
			Write: func(context.Context, accessory.WriteRequest, any) error {
				b.writes++
				return nil
			},
		},
		{
			IID: 13, Type: accessory.HAPType(0x2000), Format: accessory.FormatString,
			Properties: accessory.Properties{Readable: true, Writable: true, SupportsWriteResponse: true},
			Read: func(context.Context, accessory.ReadRequest) (any, error) {
				return "echo:" + b.label, nil
			},
			Write: func(_ context.Context, _ accessory.WriteRequest, v any) error {
				b.label = v.(string)
				return nil
			},
		},
		{
			IID: 21, Type: accessory.CharacteristicTypeProgrammableSwitchEvent, Format: accessory.FormatUInt8,
			Properties: accessory.Properties{Readable: true, SupportsEventNotification: true},
			Read: func(context.Context, accessory.ReadRequest) (any, error) {
				return uint8(0), nil
			},
		},
	}
	if tweak != nil {
		for _, c := range chars {
			tweak(c)
		}
	}

	a := &accessory.Accessory{
		AID:  1,
		Name: "Bulb",
		Services: []*accessory.Service{
			{IID: 1, Type: accessory.ServiceTypeAccessoryInformation, Characteristics: chars[:2]},
			{IID: 8, Type: accessory.ServiceTypeLightbulb, Primary: true, Characteristics: chars[2:6]},
			{IID: 20, Type: accessory.ServiceTypeStatelessProgrammableSwitch, Characteristics: chars[6:]},
		},
	}
	db, err := accessory.NewDatabase(a)
	if err != nil {
		t.Fatalf("NewDatabase() error = %v", err)
	}
	return db
}

type harness struct {
	t        *testing.T
	clock    *runloop.ManualClock
	loop     *runloop.Loop
	listener *transport.MemListener
	provider *security.PSKProvider
	mdns     *discovery.MockMDNSServerFactory
	bulb     *bulb
	srv      *Server
	states   []State
}

type option func(h *harness, c *Config)

func withTweak(tweak func(c *accessory.Characteristic)) option {
	return func(h *harness, c *Config) { c.Database = h.bulb.database(h.t, tweak) }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	clock := runloop.NewManualClock(time.Unix(1_700_000_000, 0))
	h := &harness{
		t:     t,
		clock: clock,
		loop:  runloop.New(runloop.Config{Clock: clock}),
		provider: &security.PSKProvider{
			Key:       pskKey,
			SetupCode: setupCode,
			Paired:    true,
		},
		mdns: &discovery.MockMDNSServerFactory{},
		bulb: &bulb{},
	}
	h.provider.Now = clock.Now

	adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Name:          "Bulb",
		Port:          51826,
		ServerFactory: h.mdns,
	})
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}

	cfg := Config{
		Database:         h.bulb.database(t, nil),
		SecurityProvider: h.provider,
		Listen: func() (transport.Listener, error) {
			h.listener = transport.NewMemListener(h.loop)
			return h.listener, nil
		},
		Loop:       h.loop,
		Advertiser: adv,
		TXT: discovery.TXT{
			DeviceID: "AA:BB:CC:DD:EE:FF",
			Model:    "Bulb1,1",
			Category: discovery.CategoryLightbulb,
		},
		OnStateChanged: func(s State) { h.states = append(h.states, s) },
	}
	for _, opt := range opts {
		opt(h, &cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.srv = srv
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.loop.RunPending()
	return h
}

// txt returns the last advertised service record.
func (h *harness) txt() *discovery.TXT {
	h.t.Helper()
	server := h.mdns.Last()
	if server == nil {
		h.t.Fatal("service was never registered")
	}
	txt, err := discovery.DecodeTXT(server.Text())
	if err != nil {
		h.t.Fatalf("DecodeTXT() error = %v", err)
	}
	return txt
}

// controller is the peer end of one session.
type controller struct {
	h      *harness
	conn   *transport.MemConn
	cipher security.Cipher
	// pending holds received ciphertext of an incomplete frame.
	pending []byte
}

func (h *harness) dial() *controller {
	h.t.Helper()
	conn, err := h.listener.Dial()
	if err != nil {
		h.t.Fatalf("Dial() error = %v", err)
	}
	h.loop.RunPending()
	return &controller{h: h, conn: conn}
}

// dialSecured connects and completes pair-verify.
func (h *harness) dialSecured() *controller {
	h.t.Helper()
	c := h.dial()
	c.verify()
	return c
}

func (c *controller) sendRaw(p []byte) {
	c.h.t.Helper()
	if _, err := c.conn.Write(p); err != nil {
		c.h.t.Fatalf("Write() error = %v", err)
	}
	c.h.loop.RunPending()
}

func (c *controller) send(raw string) {
	c.h.t.Helper()
	p := []byte(raw)
	if c.cipher != nil {
		sealed, err := c.cipher.Encrypt(nil, p)
		if err != nil {
			c.h.t.Fatalf("Encrypt() error = %v", err)
		}
		p = sealed
	}
	c.sendRaw(p)
}

// request sends an HTTP request with an optional body.
func (c *controller) request(method, uri, contentType string, body []byte) {
	c.h.t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, uri)
	if contentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	}
	if body != nil || method != http.MethodGet {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	b.WriteString("\r\n")
	b.Write(body)
	c.send(b.String())
}

// recv returns all plaintext received so far.
func (c *controller) recv() []byte {
	c.h.t.Helper()
	data := c.conn.ReadAll()
	c.h.loop.RunPending()
	if c.cipher == nil {
		return data
	}
	data = append(c.pending, data...)
	var out []byte
	for len(data) > 0 {
		pt, n, err := c.cipher.Decrypt(data)
		if err != nil {
			c.h.t.Fatalf("Decrypt() error = %v", err)
		}
		if n == 0 {
			break
		}
		out = append(out, pt...)
		data = data[n:]
	}
	c.pending = append([]byte(nil), data...)
	return out
}

// response is a parsed response or event message.
type response struct {
	event bool
	code  int
	hdr   http.Header
	body  string
}

func parseResponses(t *testing.T, raw []byte) []response {
	t.Helper()
	var out []response
	r := bufio.NewReader(bytes.NewReader(raw))
	for {
		if _, err := r.Peek(1); err == io.EOF {
			return out
		}
		event := false
		if p, _ := r.Peek(len("EVENT/1.0")); string(p) == "EVENT/1.0" {
			event = true
			// net/http only parses HTTP versions.
			rest, _ := io.ReadAll(r)
			rest = append([]byte("HTTP/1.1"), rest[len("EVENT/1.0"):]...)
			r = bufio.NewReader(bytes.NewReader(rest))
		}
		resp, err := http.ReadResponse(r, nil)
		if err != nil {
			t.Fatalf("ReadResponse(%q) error = %v", raw, err)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body error = %v", err)
		}
		resp.Body.Close()
		out = append(out, response{event: event, code: resp.StatusCode, hdr: resp.Header, body: string(body)})
	}
}

// roundTrip sends a request and returns the single response.
func (c *controller) roundTrip(method, uri, contentType string, body []byte) response {
	c.h.t.Helper()
	c.request(method, uri, contentType, body)
	got := parseResponses(c.h.t, c.recv())
	if len(got) != 1 {
		c.h.t.Fatalf("%s %s: got %d responses, want 1", method, uri, len(got))
	}
	return got[0]
}

func (c *controller) get(uri string) response {
	return c.roundTrip(http.MethodGet, uri, "", nil)
}

func (c *controller) put(uri, body string) response {
	return c.roundTrip(http.MethodPut, uri, contentTypeHAPJSON, []byte(body))
}

// verify runs the pre-shared key pair-verify exchange.
func (c *controller) verify() {
	c.h.t.Helper()
	nonce := bytes.Repeat([]byte{0x5a}, security.NonceSize)
	resp := c.roundTrip(http.MethodPost, "/pair-verify", contentTypeTLV8, nonce)
	if resp.code != http.StatusOK {
		c.h.t.Fatalf("pair-verify code = %d", resp.code)
	}
	secret, err := security.PSKSharedSecret(pskKey, nonce, []byte(resp.body))
	if err != nil {
		c.h.t.Fatalf("PSKSharedSecret() error = %v", err)
	}
	fc, err := security.NewControlCipher(secret, security.RoleController)
	if err != nil {
		c.h.t.Fatalf("NewControlCipher() error = %v", err)
	}
	c.cipher = fc
}

// events returns the bodies of all received EVENT messages.
func (c *controller) events() []string {
	c.h.t.Helper()
	var out []string
	for _, r := range parseResponses(c.h.t, c.recv()) {
		if !r.event {
			c.h.t.Fatalf("unexpected response %d %q", r.code, r.body)
		}
		out = append(out, r.body)
	}
	return out
}

// sessions returns the open sessions in slot order.
func (h *harness) sessions() []*Session {
	var out []*Session
	h.loop.Do(func() { h.srv.pool.each(func(s *Session) { out = append(out, s) }) })
	return out
}
