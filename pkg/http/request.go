package http

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig says which peers may set forwarding headers
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies

	prefixes []netip.Prefix
}

// NewIPConfig parses the trusted proxy CIDRs up front and rejects invalid ones
func NewIPConfig(trustedProxies []string) (*IPConfig, error) {
	cfg := &IPConfig{TrustedProxies: trustedProxies}
	for _, cidr := range trustedProxies {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		cfg.prefixes = append(cfg.prefixes, prefix.Masked())
	}
	return cfg, nil
}

// ExtractClientIP returns the address the rate limiter and audit log key on.
//
// X-Forwarded-For and X-Real-IP are honoured only when the direct peer is a
// trusted proxy; otherwise a client could pick its own rate-limit bucket.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := remoteAddr(r)

	if config == nil || !config.trusts(remote) {
		return remote
	}

	for _, candidate := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		candidate = strings.TrimSpace(candidate)
		if addr, err := netip.ParseAddr(candidate); err == nil {
			return addr.Unmap().String()
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap().String()
	}
	return remote
}

func (c *IPConfig) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	prefixes := c.prefixes
	if prefixes == nil {
		// built as a literal; parse lazily and skip bad entries
		for _, cidr := range c.TrustedProxies {
			if prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr)); err == nil {
				prefixes = append(prefixes, prefix)
			}
		}
	}

	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// remoteAddr strips the port from r.RemoteAddr
func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
