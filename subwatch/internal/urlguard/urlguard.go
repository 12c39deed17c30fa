// Package urlguard checks page addresses and ids before a watcher opens
// them.
package urlguard

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrScheme is returned for anything but http and https.
	ErrScheme = errors.New("urlguard: only http and https pages can be watched")
	// ErrPrivate is returned for loopback, link-local and private hosts.
	ErrPrivate = errors.New("urlguard: page resolves to a private or loopback address")
)

// Resolver looks up the addresses of a host. net.LookupHost by default.
type Resolver func(host string) ([]string, error)

// Guard validates page URLs. The zero value rejects private hosts and
// resolves names with net.LookupHost.
type Guard struct {
	AllowPrivate bool
	Resolve      Resolver
}

// Check parses raw and rejects unsupported schemes, missing hosts and,
// unless AllowPrivate is set, hosts that resolve to a private address.
// Names that fail to resolve pass; the fetch will fail on its own.
func (g Guard) Check(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("urlguard: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("urlguard: %q has no host", raw)
	}
	if g.AllowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if private(ip) {
			return ErrPrivate
		}
		return nil
	}
	resolve := g.Resolve
	if resolve == nil {
		resolve = net.LookupHost
	}
	addrs, err := resolve(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && private(ip) {
			return ErrPrivate
		}
	}
	return nil
}

// CheckID rejects page ids that are empty, longer than 128 bytes, or carry
// characters outside [A-Za-z0-9._-].
func CheckID(id string) error {
	if id == "" {
		return errors.New("urlguard: empty page id")
	}
	if len(id) > 128 {
		return fmt.Errorf("urlguard: page id longer than 128 bytes")
	}
	for _, r := range id {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
		if !ok {
			return fmt.Errorf("urlguard: invalid character %q in page id", r)
		}
	}
	return nil
}

var privateNets = func() []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "100.64.0.0/10", "fc00::/7"} {
		_, n, _ := net.ParseCIDR(cidr)
		out = append(out, n)
	}
	return out
}()

func private(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
