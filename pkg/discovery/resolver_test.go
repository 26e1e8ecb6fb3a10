package discovery

import (
	"context"
	"net"
	"testing"
)

func browseAll(t *testing.T, r *Resolver, f Filter) map[string]ResolvedService {
	t.Helper()
	results, err := r.Browse(context.Background(), f)
	if err != nil {
		t.Fatalf("Browse() error = %v", err)
	}
	out := make(map[string]ResolvedService)
	for svc := range results {
		out[svc.InstanceName] = svc
	}
	return out
}

func TestResolver_Filter(t *testing.T) {
	mock := NewMockMDNSResolver()
	lamp := testTXT()
	fan := testTXT()
	fan.DeviceID = "AA:BB:CC:DD:EE:01"
	fan.Status = 0
	fan.Category = CategoryFan
	mock.RegisterService(ServiceHAP, MockAccessoryService("Lamp", 8080, net.IPv4(10, 0, 0, 1), lamp))
	mock.RegisterService(ServiceHAP, MockAccessoryService("Fan", 8081, net.IPv4(10, 0, 0, 2), fan))
	mock.RegisterService(ServiceHAP, MockAccessoryService("Broken", 8082, net.IPv4(10, 0, 0, 3), TXT{}))

	r, err := NewResolver(ResolverConfig{MDNSResolver: mock})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"Lamp", "Fan", "Broken"}},
		{"unpaired", Filter{Unpaired: true}, []string{"Lamp"}},
		{"category", Filter{Category: CategoryFan}, []string{"Fan"}},
		{"device id", Filter{DeviceID: "aa:bb:cc:dd:ee:ff"}, []string{"Lamp"}},
		{"no match", Filter{DeviceID: "11:22:33:44:55:66"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := browseAll(t, r, tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("Browse() = %d services, want %v", len(got), tt.want)
			}
			for _, name := range tt.want {
				if _, ok := got[name]; !ok {
					t.Errorf("Browse() missing %s", name)
				}
			}
		})
	}
	if got := browseAll(t, r, Filter{})["Broken"]; got.TXT != nil || got.Text == nil {
		t.Errorf("invalid record decoded as %+v", got.TXT)
	}
}

func TestResolver_Changes(t *testing.T) {
	mock := NewMockMDNSResolver()
	txt := testTXT()
	mock.RegisterService(ServiceHAP, MockAccessoryService("Lamp", 8080, net.IPv4(10, 0, 0, 1), txt))

	r, err := NewResolver(ResolverConfig{MDNSResolver: mock})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	if got := browseAll(t, r, Filter{})["Lamp"].Changed; got != ChangeNew {
		t.Errorf("first Changed = %v, want ChangeNew", got)
	}
	if got := browseAll(t, r, Filter{ChangedOnly: true}); len(got) != 0 {
		t.Errorf("unchanged record reported: %+v", got)
	}

	txt.StateNumber = NextStateNumber(txt.StateNumber)
	txt.Status = 0
	mock.RegisterService(ServiceHAP, MockAccessoryService("Lamp", 8080, net.IPv4(10, 0, 0, 1), txt))
	got := browseAll(t, r, Filter{ChangedOnly: true})["Lamp"].Changed
	if !got.Has(ChangeState|ChangeStatus) || got.Has(ChangeConfig) {
		t.Errorf("Changed = %v, want state and status", got)
	}

	txt.ConfigNumber++
	mock.RegisterService(ServiceHAP, MockAccessoryService("Lamp", 8080, net.IPv4(10, 0, 0, 1), txt))
	svc, err := r.Lookup(context.Background(), "Lamp")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if svc.Changed != ChangeConfig {
		t.Errorf("Lookup() Changed = %v, want ChangeConfig", svc.Changed)
	}

	r.Forget(txt.DeviceID)
	if got := browseAll(t, r, Filter{})["Lamp"].Changed; got != ChangeNew {
		t.Errorf("Changed after Forget = %v, want ChangeNew", got)
	}
}
