// Package ssrf validates outbound webhook URLs so agent-supplied
// destinations cannot reach loopback, private networks or cloud metadata.
package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Error is returned when a URL is rejected.
type Error struct {
	Reason string
	URL    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("blocked webhook url: %s (%s)", e.Reason, e.URL)
}

// Hostnames refused outright, before any DNS resolution.
var blockedHostSuffixes = []string{".local", ".internal"}

var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

const dnsCacheTTL = 60 * time.Second

type dnsEntry struct {
	ips       []net.IP
	expiresAt time.Time
}

// Guard checks outbound URLs. AllowedHosts bypasses all checks for exact
// matches and subdomains, for operators running agents on private networks.
type Guard struct {
	allowedHosts []string

	mu       sync.Mutex
	dnsCache map[string]dnsEntry
}

// NewGuard creates a guard with the given allowlist.
func NewGuard(allowedHosts []string) *Guard {
	return &Guard{
		allowedHosts: allowedHosts,
		dnsCache:     make(map[string]dnsEntry),
	}
}

// CheckURL validates an outbound webhook destination. Only http/https URLs
// to public addresses pass.
func (g *Guard) CheckURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &Error{Reason: "invalid url", URL: rawURL}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &Error{Reason: "only http and https are allowed", URL: rawURL}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return &Error{Reason: "missing host", URL: rawURL}
	}

	for _, allowed := range g.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}

	if blockedHosts[host] {
		return &Error{Reason: "blocked hostname", URL: rawURL}
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return &Error{Reason: "blocked hostname", URL: rawURL}
		}
	}

	ips, err := g.resolve(ctx, host)
	if err != nil {
		return &Error{Reason: fmt.Sprintf("resolve failed: %v", err), URL: rawURL}
	}
	for _, ip := range ips {
		if reason := blockedIPReason(ip); reason != "" {
			return &Error{Reason: reason, URL: rawURL}
		}
	}
	return nil
}

// resolve maps a host to IPs, caching results briefly so a later dispatch
// sees the same answer the check did.
func (g *Guard) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	g.mu.Lock()
	if e, ok := g.dnsCache[host]; ok && time.Now().Before(e.expiresAt) {
		g.mu.Unlock()
		return e.ips, nil
	}
	g.mu.Unlock()

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}

	g.mu.Lock()
	g.dnsCache[host] = dnsEntry{ips: ips, expiresAt: time.Now().Add(dnsCacheTTL)}
	g.mu.Unlock()
	return ips, nil
}

func blockedIPReason(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback address"
	case ip.IsPrivate():
		return "private address"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local address"
	case ip.IsUnspecified():
		return "unspecified address"
	case ip4InZeroNet(ip):
		return "reserved address"
	}
	return ""
}

// ip4InZeroNet reports 0.0.0.0/8 addresses, which some stacks route to
// localhost.
func ip4InZeroNet(ip net.IP) bool {
	v4 := ip.To4()
	return v4 != nil && v4[0] == 0
}
