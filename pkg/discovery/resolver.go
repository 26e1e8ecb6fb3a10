package discovery

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// Resolver timeouts used when the context carries no deadline.
const (
	DefaultBrowseTimeout = 10 * time.Second
	DefaultLookupTimeout = 5 * time.Second
)

// Change describes how an accessory's record differs from the one the
// Resolver saw before.
type Change uint8

const (
	// ChangeNew marks an accessory seen for the first time.
	ChangeNew Change = 1 << iota
	// ChangeConfig marks a new configuration number: the attribute database
	// changed and controllers should fetch /accessories again.
	ChangeConfig
	// ChangeState marks a new state number: the accessory has events for
	// controllers that are not connected.
	ChangeState
	// ChangeStatus marks new status flags.
	ChangeStatus
)

// Has reports whether every bit of c2 is set in c.
func (c Change) Has(c2 Change) bool { return c&c2 == c2 }

// ResolvedService is an accessory found on the network.
type ResolvedService struct {
	InstanceName string
	HostName     string
	Port         int

	// IPs holds the addresses, IPv4 first.
	IPs []net.IP

	// Text is the raw record. TXT is its decoded form, nil when it did not
	// validate.
	Text map[string]string
	TXT  *TXT

	// Changed compares the record with the previous one for the same
	// device ID. Zero when nothing relevant changed.
	Changed Change
}

// PreferredIP returns the first address, or nil.
func (r *ResolvedService) PreferredIP() net.IP {
	if len(r.IPs) == 0 {
		return nil
	}
	return r.IPs[0]
}

// Filter selects accessories during Browse. The zero Filter matches all.
type Filter struct {
	// DeviceID matches one accessory, case-insensitively.
	DeviceID string

	// Unpaired matches accessories that accept pair-setup.
	Unpaired bool

	// Category matches the primary accessory category when non-zero.
	Category Category

	// ChangedOnly drops accessories whose record did not change since the
	// previous Browse.
	ChangedOnly bool
}

func (f *Filter) match(svc *ResolvedService) bool {
	if f.DeviceID == "" && !f.Unpaired && f.Category == 0 {
		return !f.ChangedOnly || svc.Changed != 0
	}
	t := svc.TXT
	switch {
	case t == nil:
		return false
	case f.DeviceID != "" && !strings.EqualFold(f.DeviceID, t.DeviceID):
		return false
	case f.Unpaired && t.Status&StatusNotPaired == 0:
		return false
	case f.Category != 0 && t.Category != f.Category:
		return false
	}
	return !f.ChangedOnly || svc.Changed != 0
}

// MDNSResolver performs the DNS-SD queries. Implementations close entries
// once the query ends; *zeroconf.Resolver does. Tests substitute
// MockMDNSResolver.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// MDNSResolver defaults to a zeroconf resolver on all interfaces.
	MDNSResolver MDNSResolver

	BrowseTimeout time.Duration
	LookupTimeout time.Duration
}

// Resolver finds _hap._tcp services and remembers the last record of each
// device ID, so repeated browses report configuration and state changes.
type Resolver struct {
	mdns          MDNSResolver
	browseTimeout time.Duration
	lookupTimeout time.Duration

	mu   sync.Mutex
	seen map[string]TXT
}

// NewResolver creates a Resolver.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	r := &Resolver{
		mdns:          config.MDNSResolver,
		browseTimeout: config.BrowseTimeout,
		lookupTimeout: config.LookupTimeout,
		seen:          make(map[string]TXT),
	}
	if r.mdns == nil {
		zr, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		r.mdns = zr
	}
	if r.browseTimeout == 0 {
		r.browseTimeout = DefaultBrowseTimeout
	}
	if r.lookupTimeout == 0 {
		r.lookupTimeout = DefaultLookupTimeout
	}
	return r, nil
}

// Browse streams the accessories matching f. The channel is closed when ctx
// is done or the browse timeout expires.
func (r *Resolver) Browse(ctx context.Context, f Filter) (<-chan ResolvedService, error) {
	ctx, cancel := r.withTimeout(ctx, r.browseTimeout)
	entries := make(chan *zeroconf.ServiceEntry)
	results := make(chan ResolvedService)

	go func() {
		_ = r.mdns.Browse(ctx, ServiceHAP, DefaultDomain, entries)
	}()
	go func() {
		defer cancel()
		defer close(results)
		for entry := range entries {
			svc := r.resolve(entry)
			if !f.match(&svc) {
				continue
			}
			select {
			case results <- svc:
			case <-ctx.Done():
				for range entries {
				}
				return
			}
		}
	}()
	return results, nil
}

// Lookup resolves one accessory by instance name.
func (r *Resolver) Lookup(ctx context.Context, instanceName string) (*ResolvedService, error) {
	ctx, cancel := r.withTimeout(ctx, r.lookupTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 1)
	go func() {
		_ = r.mdns.Lookup(ctx, instanceName, ServiceHAP, DefaultDomain, entries)
	}()

	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return nil, ErrServiceNotFound
		}
		svc := r.resolve(entry)
		return &svc, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Forget drops the remembered record of deviceID.
func (r *Resolver) Forget(deviceID string) {
	r.mu.Lock()
	delete(r.seen, strings.ToUpper(deviceID))
	r.mu.Unlock()
}

func (r *Resolver) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (r *Resolver) resolve(entry *zeroconf.ServiceEntry) ResolvedService {
	svc := ResolvedService{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          append(append([]net.IP(nil), entry.AddrIPv4...), entry.AddrIPv6...),
		Text:         ParseTXT(entry.Text),
	}
	txt, err := DecodeTXT(entry.Text)
	if err != nil {
		return svc
	}
	svc.TXT = txt

	id := strings.ToUpper(txt.DeviceID)
	r.mu.Lock()
	prev, ok := r.seen[id]
	r.seen[id] = *txt
	r.mu.Unlock()
	switch {
	case !ok:
		svc.Changed = ChangeNew
	default:
		if prev.ConfigNumber != txt.ConfigNumber {
			svc.Changed |= ChangeConfig
		}
		if prev.StateNumber != txt.StateNumber {
			svc.Changed |= ChangeState
		}
		if prev.Status != txt.Status {
			svc.Changed |= ChangeStatus
		}
	}
	return svc
}
