package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"lanshare/config"
)

// Relay is one relay endpoint found on the LAN.
type Relay struct {
	Instance  string
	HostName  string
	Port      int
	Addresses []string
	Path      string
	Secure    bool
	Version   int
}

// Host returns the address to dial, preferring IPv4 over IPv6 over the mDNS host name.
func (r Relay) Host() string {
	for _, addr := range r.Addresses {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			return addr
		}
	}
	if len(r.Addresses) > 0 {
		return r.Addresses[0]
	}
	return strings.TrimSuffix(r.HostName, ".")
}

// URL returns the websocket endpoint of the relay.
func (r Relay) URL() string {
	return config.RelayURL(r.Host(), r.Port, r.Secure, r.Path)
}

// Browse collects every relay that answers within the scan window.
func Browse(ctx context.Context, cfg Config) ([]Relay, error) {
	return scan(ctx, cfg.withDefaults(), false)
}

// FirstRelay returns the first relay that answers, or ErrNoRelay once the scan window ends.
func FirstRelay(ctx context.Context, cfg Config) (Relay, error) {
	relays, err := scan(ctx, cfg.withDefaults(), true)
	if err != nil {
		return Relay{}, err
	}
	if len(relays) == 0 {
		return Relay{}, ErrNoRelay
	}
	return relays[0], nil
}

func scan(ctx context.Context, cfg Config, first bool) ([]Relay, error) {
	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- browse(scanCtx, cfg.Service, cfg.Domain, entries)
	}()

	relays := make([]Relay, 0)
	seen := make(map[string]struct{})
	errc := (<-chan error)(browseErr)
	for {
		select {
		case <-scanCtx.Done():
			// A timeout just means this scan window ended naturally.
			if err := ctx.Err(); err != nil {
				return relays, err
			}
			return relays, nil
		case err := <-errc:
			if err != nil {
				return nil, fmt.Errorf("browse mDNS: %w", err)
			}
			errc = nil
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			relay, ok := parseEntry(entry)
			if !ok {
				continue
			}
			key := relay.Instance + "|" + strconv.Itoa(relay.Port)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			relays = append(relays, relay)
			if first {
				return relays, nil
			}
		}
	}
}

func parseEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	if entry == nil || entry.Port <= 0 {
		return Relay{}, false
	}
	txt := txtToMap(entry.Text)

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}
	secure, _ := strconv.ParseBool(txt["secure"])
	path := txt["path"]
	if path == "" {
		path = DefaultPath
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(append([]net.IP(nil), entry.AddrIPv4...), entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	sort.SliceStable(addresses, func(i, j int) bool {
		iv4 := net.ParseIP(addresses[i]).To4() != nil
		jv4 := net.ParseIP(addresses[j]).To4() != nil
		if iv4 != jv4 {
			return iv4
		}
		return addresses[i] < addresses[j]
	})

	if len(addresses) == 0 && strings.TrimSpace(entry.HostName) == "" {
		return Relay{}, false
	}

	return Relay{
		Instance:  strings.TrimSpace(entry.Instance),
		HostName:  entry.HostName,
		Port:      entry.Port,
		Addresses: addresses,
		Path:      path,
		Secure:    secure,
		Version:   version,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}
