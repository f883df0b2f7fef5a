package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestAdvertiseBuildsExpectedTXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := Config{
		Instance: "Kitchen relay",
		Port:     8080,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	broadcaster, err := Advertise(cfg)
	if err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}
	if broadcaster == nil {
		t.Fatalf("expected broadcaster instance")
	}
	broadcaster.Stop()

	if gotInstance != "Kitchen relay" {
		t.Fatalf("unexpected instance name: %q", gotInstance)
	}
	if gotService != "_lanshare-relay._tcp" {
		t.Fatalf("unexpected service: %q", gotService)
	}
	if gotDomain != DefaultDomain {
		t.Fatalf("unexpected domain: %q", gotDomain)
	}
	if gotPort != 8080 {
		t.Fatalf("unexpected port: %d", gotPort)
	}
	assertContainsTXT(t, gotTXT, "version=1")
	assertContainsTXT(t, gotTXT, "path=/ws")
	assertContainsTXT(t, gotTXT, "secure=false")
}

func TestAdvertiseRejectsMissingPort(t *testing.T) {
	called := false
	_, err := Advertise(Config{
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			called = true
			return nil, nil
		},
	})
	if err == nil {
		t.Fatalf("expected error for missing port")
	}
	if called {
		t.Fatalf("register must not run when config is invalid")
	}
}

func TestAdvertiseWrapsRegisterError(t *testing.T) {
	boom := errors.New("no multicast interface")
	_, err := Advertise(Config{
		Port: 8080,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			return nil, boom
		},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped register error, got %v", err)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Path: "relay"}.withDefaults()
	if cfg.Service != DefaultService || cfg.Domain != DefaultDomain {
		t.Fatalf("unexpected service defaults: %q %q", cfg.Service, cfg.Domain)
	}
	if cfg.ScanTimeout != DefaultScanTimeout {
		t.Fatalf("expected default scan timeout, got %s", cfg.ScanTimeout)
	}
	if cfg.Path != "/relay" {
		t.Fatalf("expected path to gain a leading slash, got %q", cfg.Path)
	}
	if cfg.Instance != DefaultInstance {
		t.Fatalf("expected default instance, got %q", cfg.Instance)
	}
}

func TestBroadcasterStopIsNilSafe(t *testing.T) {
	var b *Broadcaster
	b.Stop()
	(&Broadcaster{}).Stop()
}

func TestFirstRelayReturnsFirstAnswer(t *testing.T) {
	cfg := Config{
		ScanTimeout: 2 * time.Second,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			if service != DefaultService {
				t.Errorf("unexpected browse service %q", service)
			}
			go func() {
				entries <- relayEntry("first", 8080, []string{"version=1", "path=/ws", "secure=false"}, "192.168.1.20")
				entries <- relayEntry("second", 9090, nil, "192.168.1.21")
			}()
			return nil
		},
	}

	start := time.Now()
	relay, err := FirstRelay(context.Background(), cfg)
	if err != nil {
		t.Fatalf("FirstRelay failed: %v", err)
	}
	if time.Since(start) >= cfg.ScanTimeout {
		t.Fatalf("expected FirstRelay to return before the scan window ends")
	}
	if relay.Instance != "first" {
		t.Fatalf("expected first relay, got %+v", relay)
	}
	if got := relay.URL(); got != "ws://192.168.1.20:8080/ws" {
		t.Fatalf("unexpected relay URL: %s", got)
	}
}

func TestFirstRelayReportsNoRelay(t *testing.T) {
	cfg := Config{
		ScanTimeout: 50 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			<-ctx.Done()
			return nil
		},
	}

	_, err := FirstRelay(context.Background(), cfg)
	if !errors.Is(err, ErrNoRelay) {
		t.Fatalf("expected ErrNoRelay, got %v", err)
	}
}

func TestFirstRelayPropagatesBrowseError(t *testing.T) {
	boom := errors.New("socket closed")
	cfg := Config{
		ScanTimeout: time.Second,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			return boom
		},
	}

	if _, err := FirstRelay(context.Background(), cfg); !errors.Is(err, boom) {
		t.Fatalf("expected browse error, got %v", err)
	}
}

func TestBrowseCollectsDistinctRelays(t *testing.T) {
	cfg := Config{
		ScanTimeout: 100 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			entries <- relayEntry("a", 8080, nil, "10.0.0.2")
			entries <- relayEntry("a", 8080, nil, "10.0.0.2")
			entries <- relayEntry("b", 8443, []string{"secure=true", "path=/relay"}, "10.0.0.3")
			entries <- &zeroconf.ServiceEntry{}
			return nil
		},
	}

	relays, err := Browse(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(relays) != 2 {
		t.Fatalf("expected 2 relays, got %+v", relays)
	}
	if got := relays[1].URL(); got != "wss://10.0.0.3:8443/relay" {
		t.Fatalf("unexpected secure relay URL: %s", got)
	}
}

func TestBrowseHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			return nil
		},
	}
	if _, err := Browse(ctx, cfg); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseEntryPrefersIPv4(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "relay"},
		HostName:      "relay-box.local.",
		Port:          8080,
		Text:          []string{"version=2", "junk", "=x"},
		AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
		AddrIPv4:      []net.IP{net.ParseIP("192.168.1.9"), net.ParseIP("192.168.1.9")},
	}

	relay, ok := parseEntry(entry)
	if !ok {
		t.Fatalf("expected entry to parse")
	}
	if len(relay.Addresses) != 2 || relay.Addresses[0] != "192.168.1.9" {
		t.Fatalf("unexpected addresses: %v", relay.Addresses)
	}
	if relay.Version != 2 || relay.Path != DefaultPath || relay.Secure {
		t.Fatalf("unexpected TXT parse: %+v", relay)
	}
	if relay.Host() != "192.168.1.9" {
		t.Fatalf("unexpected host: %s", relay.Host())
	}

	hostOnly, ok := parseEntry(&zeroconf.ServiceEntry{HostName: "relay-box.local.", Port: 8080})
	if !ok {
		t.Fatalf("expected host-only entry to parse")
	}
	if got := hostOnly.URL(); got != "ws://relay-box.local:8080/ws" {
		t.Fatalf("unexpected host-only URL: %s", got)
	}
}

func relayEntry(instance string, port int, text []string, ipv4 string) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance},
		HostName:      instance + ".local.",
		Port:          port,
		Text:          text,
		AddrIPv4:      []net.IP{net.ParseIP(ipv4)},
	}
}

func assertContainsTXT(t *testing.T, txt []string, expected string) {
	t.Helper()
	for _, v := range txt {
		if v == expected {
			return
		}
	}
	t.Fatalf("missing TXT record %q in %v", expected, txt)
}
