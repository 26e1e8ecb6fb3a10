package ipserver

import (
	"context"
	"fmt"
	"time"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/bytebuf"
	"github.com/backkem/hap/pkg/discovery"
	"github.com/backkem/hap/pkg/hapjson"
	"github.com/backkem/hap/pkg/runloop"
	"github.com/backkem/hap/pkg/security"
	"github.com/backkem/hap/pkg/transport"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Defaults applied by Config.applyDefaults.
const (
	DefaultMaxSessions           = 8
	DefaultInboundBufferSize     = 32 * 1024
	DefaultOutboundBufferSize    = 32 * 1024
	DefaultScratchBufferSize     = 32 * 1024
	DefaultMaxEventNotifications = 16
	DefaultMaxReadWriteContexts  = 64
	DefaultEventCoalescingDelay  = time.Second
	DefaultProgressionTimeout    = 10 * time.Second
	DefaultIdleTimeout           = 10 * time.Second
	DefaultWACModeTimeout        = 15 * time.Minute
)

// EventStorage selects how sessions store event subscriptions.
type EventStorage int

const (
	// EventStorageAuto uses an array unless the database has more
	// event-capable characteristics than MaxEventNotifications.
	EventStorageAuto EventStorage = iota

	// EventStorageArray keeps up to MaxEventNotifications subscriptions per
	// session.
	EventStorageArray

	// EventStorageBitset keeps one bit per event-capable characteristic.
	EventStorageBitset
)

// String returns the storage name.
func (e EventStorage) String() string {
	switch e {
	case EventStorageAuto:
		return "auto"
	case EventStorageArray:
		return "array"
	case EventStorageBitset:
		return "bitset"
	default:
		return "unknown"
	}
}

// Advertiser publishes the _hap._tcp service record.
// *discovery.Advertiser satisfies it.
type Advertiser interface {
	Advertise(txt discovery.TXT) error
	Withdraw() error
}

// WACProvider implements the Wi-Fi Accessory Configuration exchange.
type WACProvider interface {
	// AuthSetup answers an /auth-setup request. A non-nil cipher secures the
	// session once the response has been sent.
	AuthSetup(ctx context.Context, req []byte) (resp []byte, c security.Cipher, err error)

	// ApplyConfiguration applies the network configuration of a /config
	// request.
	ApplyConfiguration(ctx context.Context, req []byte) error

	// Configured is called when a controller confirms the configuration
	// through /configured.
	Configured(ctx context.Context) error
}

// ResourceHandler answers a /resource request, typically a camera snapshot.
type ResourceHandler func(ctx context.Context, req *hapjson.ResourceRequest) (contentType string, body []byte, err error)

// PDUHandler answers a HAP-PDU carried by /secure-message. It returns the
// PDU status byte and the response body.
type PDUHandler func(ctx context.Context, session accessory.Session, pdu PDU) (status byte, body []byte)

// Config configures a Server.
type Config struct {
	// Database is the accessory attribute database. Required.
	Database *accessory.Database

	// SecurityProvider creates pairing sessions. Required.
	SecurityProvider security.Provider

	// Listen opens the listener when the server starts. Required.
	Listen func() (transport.Listener, error)

	// Loop runs all server callbacks. A real-time loop is created when nil;
	// the caller must then run it.
	Loop *runloop.Loop

	// LoggerFactory for logging. Optional.
	LoggerFactory logging.LoggerFactory

	// Storage persists the state and configuration numbers. Defaults to
	// MemoryStorage.
	Storage Storage

	// Advertiser publishes the service. Optional.
	Advertiser Advertiser

	// TXT is the base service record. ConfigNumber, StateNumber and Status
	// are managed by the server.
	TXT discovery.TXT

	// Session pool sizing.
	MaxSessions        int
	InboundBufferSize  int
	OutboundBufferSize int
	ScratchBufferSize  int

	// Allocator decides whether buffers may grow. Defaults to
	// bytebuf.Dynamic{}.
	Allocator bytebuf.Allocator

	EventStorage          EventStorage
	MaxEventNotifications int

	// EventCoalescingDelay is the minimum time between two event
	// notifications of one session.
	EventCoalescingDelay time.Duration

	// ProgressionTimeout is the watchdog period. A session whose peer took
	// none of its pending output during a period is closed.
	ProgressionTimeout time.Duration

	// IdleTimeout bounds how long a busy session may delay a stop.
	IdleTimeout time.Duration

	// MaxReadWriteContexts bounds the characteristics of one request.
	MaxReadWriteContexts int

	// WACProvider enables Wi-Fi Accessory Configuration. Optional.
	WACProvider    WACProvider
	WACModeTimeout time.Duration

	// Optional request handlers.
	ResourceHandler ResourceHandler
	PDUHandler      PDUHandler
	Identify        func(ctx context.Context) error

	// OnStateChanged is called on the loop after every state transition.
	OnStateChanged func(state State)

	// MetricsRegisterer registers the server metrics. Optional.
	MetricsRegisterer prometheus.Registerer
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Database == nil {
		return ErrDatabaseRequired
	}
	if c.SecurityProvider == nil {
		return ErrProviderRequired
	}
	if c.Listen == nil {
		return ErrListenRequired
	}
	if c.MaxSessions < 0 || c.MaxSessions == 1 {
		return fmt.Errorf("%w: MaxSessions must be at least 2", ErrInvalidConfig)
	}
	if c.InboundBufferSize < 0 || c.OutboundBufferSize < 0 || c.ScratchBufferSize < 0 {
		return fmt.Errorf("%w: negative buffer size", ErrInvalidConfig)
	}
	if c.EventStorage < EventStorageAuto || c.EventStorage > EventStorageBitset {
		return fmt.Errorf("%w: event storage %d", ErrInvalidConfig, c.EventStorage)
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Storage == nil {
		c.Storage = NewMemoryStorage()
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.InboundBufferSize == 0 {
		c.InboundBufferSize = DefaultInboundBufferSize
	}
	if c.OutboundBufferSize == 0 {
		c.OutboundBufferSize = DefaultOutboundBufferSize
	}
	if c.ScratchBufferSize == 0 {
		c.ScratchBufferSize = DefaultScratchBufferSize
	}
	if c.Allocator == nil {
		c.Allocator = bytebuf.Dynamic{}
	}
	if c.MaxEventNotifications == 0 {
		c.MaxEventNotifications = DefaultMaxEventNotifications
	}
	if c.EventStorage == EventStorageAuto {
		c.EventStorage = EventStorageArray
		if c.Database.NumEventCharacteristics() > c.MaxEventNotifications {
			c.EventStorage = EventStorageBitset
		}
	}
	if c.EventCoalescingDelay == 0 {
		c.EventCoalescingDelay = DefaultEventCoalescingDelay
	}
	if c.ProgressionTimeout == 0 {
		c.ProgressionTimeout = DefaultProgressionTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxReadWriteContexts == 0 {
		c.MaxReadWriteContexts = DefaultMaxReadWriteContexts
	}
	if c.WACModeTimeout == 0 {
		c.WACModeTimeout = DefaultWACModeTimeout
	}
	if c.Loop == nil {
		c.Loop = runloop.New(runloop.Config{LoggerFactory: c.LoggerFactory})
	}
}
