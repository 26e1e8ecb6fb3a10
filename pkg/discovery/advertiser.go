package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MaxInstanceNameLength bounds the DNS-SD instance label.
const MaxInstanceNameLength = 63

// MDNSServer is the interface for an mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// SetText replaces and announces the TXT records.
	SetText(txt []string)

	// Shutdown withdraws the service.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// Name is the DNS-SD instance name, usually the accessory name. Required.
	Name string

	// Port is the TCP port of the accessory server. Required.
	Port int

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes the _hap._tcp service of one accessory server.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu     sync.Mutex
	server MDNSServer
	txt    TXT
	closed bool
}

// NewAdvertiser creates a new Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Name == "" || len(config.Name) > MaxInstanceNameLength {
		return nil, ErrInvalidName
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, ErrInvalidPort
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:  config,
		factory: factory,
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a, nil
}

// Advertise publishes txt. The first call registers the service; later calls
// republish the TXT record in place.
func (a *Advertiser) Advertise(txt TXT) error {
	if err := txt.Validate(); err != nil {
		return fmt.Errorf("advertiser: txt validation failed: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	records := txt.Encode()
	if a.server != nil {
		if a.log != nil {
			a.log.Debugf("republishing %s: %v", ServiceHAP, records)
		}
		a.server.SetText(records)
		a.txt = txt
		return nil
	}

	if a.log != nil {
		a.log.Debugf("registering mDNS service: instance=%s service=%s port=%d",
			a.config.Name, ServiceHAP, a.config.Port)
		a.log.Tracef("TXT records: %v", records)
	}

	server, err := a.factory.Register(
		a.config.Name,
		ServiceHAP,
		DefaultDomain,
		a.config.Port,
		records,
		a.config.Interfaces,
	)
	if err != nil {
		return fmt.Errorf("advertiser: mDNS registration failed for %s: %w", ServiceHAP, err)
	}

	if a.log != nil {
		a.log.Infof("advertising %q on port %d (%s)", a.config.Name, a.config.Port, txt.Status)
	}
	a.server = server
	a.txt = txt
	return nil
}

// Withdraw stops advertising.
func (a *Advertiser) Withdraw() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server == nil {
		return ErrNotStarted
	}
	a.server.Shutdown()
	a.server = nil
	if a.log != nil {
		a.log.Infof("withdrew %q", a.config.Name)
	}
	return nil
}

// IsAdvertising reports whether the service is registered.
func (a *Advertiser) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// TXT returns the most recently published record.
func (a *Advertiser) TXT() TXT {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.txt
}

// Close withdraws the service and closes the advertiser.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.closed = true
	return nil
}
