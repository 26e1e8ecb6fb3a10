package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNSServer records what an Advertiser published.
type MockMDNSServer struct {
	mu       sync.Mutex
	txt      []string
	updates  int
	shutdown bool
}

// SetText implements MDNSServer.
func (m *MockMDNSServer) SetText(txt []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txt = txt
	m.updates++
}

// Shutdown implements MDNSServer.
func (m *MockMDNSServer) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
}

// Text returns the current TXT records.
func (m *MockMDNSServer) Text() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txt
}

// Updates returns how often the record was republished.
func (m *MockMDNSServer) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// IsShutdown reports whether the service was withdrawn.
func (m *MockMDNSServer) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// MockMDNSServerFactory is an MDNSServerFactory that keeps registrations in
// memory.
type MockMDNSServerFactory struct {
	mu      sync.Mutex
	servers []*MockMDNSServer
	// Err, when set, fails every registration.
	Err error
}

// Register implements MDNSServerFactory.
func (f *MockMDNSServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s := &MockMDNSServer{txt: txt}
	f.servers = append(f.servers, s)
	return s, nil
}

// Servers returns every registration made so far.
func (f *MockMDNSServerFactory) Servers() []*MockMDNSServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockMDNSServer(nil), f.servers...)
}

// Last returns the most recent registration, or nil.
func (f *MockMDNSServerFactory) Last() *MockMDNSServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.servers) == 0 {
		return nil
	}
	return f.servers[len(f.servers)-1]
}

// MockMDNSResolver answers queries from registered entries. Registering an
// instance name again replaces its entry.
type MockMDNSResolver struct {
	mu      sync.RWMutex
	entries map[string][]*zeroconf.ServiceEntry
}

// NewMockMDNSResolver creates a resolver with no services.
func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{entries: make(map[string][]*zeroconf.ServiceEntry)}
}

// RegisterService adds or replaces entry under service.
func (m *MockMDNSResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.entries[service]
	for i, e := range list {
		if e.Instance == entry.Instance {
			list[i] = entry
			return
		}
	}
	m.entries[service] = append(list, entry)
}

func (m *MockMDNSResolver) snapshot(service string) []*zeroconf.ServiceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*zeroconf.ServiceEntry(nil), m.entries[service]...)
}

// Browse implements MDNSResolver. Like zeroconf it closes entries when done.
func (m *MockMDNSResolver) Browse(ctx context.Context, service, _ string, entries chan<- *zeroconf.ServiceEntry) error {
	defer close(entries)
	for _, e := range m.snapshot(service) {
		select {
		case entries <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Lookup implements MDNSResolver. Like zeroconf it closes entries when done.
func (m *MockMDNSResolver) Lookup(ctx context.Context, instance, service, _ string, entries chan<- *zeroconf.ServiceEntry) error {
	defer close(entries)
	for _, e := range m.snapshot(service) {
		if e.Instance != instance {
			continue
		}
		select {
		case entries <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// MockAccessoryService creates a _hap._tcp service entry for testing.
func MockAccessoryService(name string, port int, ip net.IP, txt TXT) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: name,
			Service:  ServiceHAP,
			Domain:   DefaultDomain,
		},
		HostName: name + ".local.",
		Port:     port,
		AddrIPv4: []net.IP{ip},
		Text:     txt.Encode(),
	}
}
