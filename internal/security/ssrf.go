package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nu-mcp/internal/domain"
)

// privateRanges lists the private/reserved CIDR blocks a fetch may not reach.
var privateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
}

var parsedRanges []*net.IPNet

func init() {
	for _, cidr := range privateRanges {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		parsedRanges = append(parsedRanges, ipnet)
	}
}

// IsPrivateIP checks if an IP falls within any private/reserved range.
func IsPrivateIP(ip net.IP) bool {
	// IPv4-mapped IPv6 is checked as IPv4.
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, ipnet := range parsedRanges {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// URLGuard rejects outbound requests to private or reserved addresses.
// With AllowPrivate set it only enforces the scheme whitelist.
type URLGuard struct {
	AllowPrivate bool
	Resolver     *net.Resolver // nil = net.DefaultResolver
}

func (g *URLGuard) resolver() *net.Resolver {
	if g.Resolver != nil {
		return g.Resolver
	}
	return net.DefaultResolver
}

// ValidateURL checks the scheme and, unless private targets are allowed,
// that the host does not resolve to a private/reserved IP.
func (g *URLGuard) ValidateURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.NewDomainError("URLGuard.ValidateURL", domain.ErrSSRFBlocked, fmt.Sprintf("invalid URL: %v", err))
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return domain.NewDomainError("URLGuard.ValidateURL", domain.ErrSSRFBlocked, "missing URL scheme, only http/https allowed")
	default:
		return domain.NewDomainError("URLGuard.ValidateURL", domain.ErrSSRFBlocked,
			fmt.Sprintf("scheme %q not allowed, only http/https", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return domain.NewDomainError("URLGuard.ValidateURL", domain.ErrSSRFBlocked, "empty hostname")
	}
	if g.AllowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return domain.NewDomainError("URLGuard.ValidateURL", domain.ErrSSRFBlocked,
				fmt.Sprintf("IP %s is private/reserved", ip))
		}
		return nil
	}

	addrs, err := g.resolver().LookupIPAddr(ctx, host)
	if err != nil {
		return domain.NewDomainError("URLGuard.ValidateURL", domain.ErrSSRFBlocked,
			fmt.Sprintf("DNS lookup failed: %v", err))
	}
	for _, a := range addrs {
		if IsPrivateIP(a.IP) {
			return domain.NewDomainError("URLGuard.ValidateURL", domain.ErrSSRFBlocked,
				fmt.Sprintf("host %s resolves to private IP %s", host, a.IP))
		}
	}
	return nil
}

// Transport returns an HTTP transport that resolves each host once, checks
// every resolved address and dials the checked address directly, so a DNS
// answer cannot change between validation and connect.
func (g *URLGuard) Transport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
	if g.AllowPrivate {
		t.DialContext = dialer.DialContext
		return t
	}

	// A proxy would be dialed instead of the checked address.
	t.Proxy = nil
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}

		addrs, err := g.resolver().LookupIPAddr(ctx, host)
		if err != nil {
			return nil, domain.NewDomainError("URLGuard.Dial", domain.ErrSSRFBlocked,
				fmt.Sprintf("DNS lookup failed for %s: %v", host, err))
		}
		if len(addrs) == 0 {
			return nil, domain.NewDomainError("URLGuard.Dial", domain.ErrSSRFBlocked, "no IPs resolved for "+host)
		}
		for _, a := range addrs {
			if IsPrivateIP(a.IP) {
				return nil, domain.NewDomainError("URLGuard.Dial", domain.ErrSSRFBlocked,
					fmt.Sprintf("%s resolves to private IP %s", host, a.IP))
			}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].IP.String(), port))
	}
	return t
}
