package security

import (
	"context"
	"net/netip"
	"net/url"
	"strings"
)

// Resolver resolves host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// ValidateDomain checks that rawURL may be fetched: http(s) only, no
// userinfo, not a local host name, every resolved address public, and the
// host on the allow-list. An empty allow-list denies everything.
func (p *Policy) ValidateDomain(ctx context.Context, rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return domainErr(rawURL, "URL cannot be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return domainErr(rawURL, "invalid URL")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return domainErr(rawURL, "only http/https URLs allowed")
	}
	if u.User != nil {
		return domainErr(rawURL, "URL userinfo not allowed")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return domainErr(rawURL, "cannot extract host from URL")
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") || host == "0.0.0.0" || host == "::" {
		return domainErr(host, "blocked local host")
	}

	addrs, err := p.lookup(ctx, host)
	if err != nil || len(addrs) == 0 {
		return domainErr(host, "DNS resolution failed")
	}
	for _, a := range addrs {
		if IsPrivateAddr(a) {
			p.logger.Warn("blocked private address", "host", host, "addr", a.String())
			return domainErr(host, "blocked private/local IP "+a.String())
		}
	}

	if len(p.allowedDomains) == 0 {
		return domainErr(host, "no allowed domains configured")
	}
	if !p.hostAllowed(host) {
		return domainErr(host, "host not in allowed domains")
	}
	return nil
}

func (p *Policy) lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a}, nil
	}
	return p.resolver.LookupNetIP(ctx, "ip", host)
}

func (p *Policy) hostAllowed(host string) bool {
	for _, d := range p.allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// IsPrivateAddr reports whether a is not a routable public address.
// IPv4-mapped IPv6 addresses are judged by their embedded IPv4 address.
func IsPrivateAddr(a netip.Addr) bool {
	if a.Is4In6() {
		return IsPrivateAddr(a.Unmap())
	}
	if a.IsLoopback() || a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() ||
		a.IsPrivate() || a.IsUnspecified() || a.IsMulticast() {
		return true
	}
	if a.Is4() {
		return cgnat.Contains(a)
	}
	// fec0::/10 site-local, deprecated but still private.
	b := a.As16()
	return b[0] == 0xfe && b[1]&0xc0 == 0xc0
}
