package alert

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var (
	ErrInvalidScheme    = errors.New("only HTTPS allowed")
	ErrPrivateIP        = errors.New("private IP addresses not allowed")
	ErrLocalhostBlocked = errors.New("localhost not allowed")
	ErrInvalidPort      = errors.New("only port 443 allowed")
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrEmptyHost        = errors.New("URL must have a host")
)

const resolveTimeout = 3 * time.Second

// blockedPrefixes are ranges netip's predicates don't cover: carrier grade
// NAT, "this network" and the IPv6 unique local block.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("fc00::/7"),
}

// resolve is swapped in tests.
var resolve = func(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// ValidateTargetURL rejects receiver URLs that could reach internal
// services. Hosts that don't resolve yet are accepted; the dial guard in
// NewHTTPClient still applies at delivery time.
func ValidateTargetURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if u.Scheme != "https" {
		return ErrInvalidScheme
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "":
		return ErrEmptyHost
	case localName(host):
		return ErrLocalhostBlocked
	case u.Port() != "" && u.Port() != "443":
		return ErrInvalidPort
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Unmap().IsLoopback() {
			return ErrLocalhostBlocked
		}
		if blockedAddr(addr) {
			return ErrPrivateIP
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	addrs, err := resolve(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if blockedAddr(a) {
			return ErrPrivateIP
		}
	}
	return nil
}

func localName(host string) bool {
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local")
}

func blockedAddr(a netip.Addr) bool {
	a = a.Unmap()
	if !a.IsValid() || a.IsLoopback() || a.IsPrivate() || a.IsUnspecified() ||
		a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() || a.IsInterfaceLocalMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// dialGuard refuses connections to blocked addresses after resolution, so
// a receiver host that starts resolving inward is still unreachable.
func dialGuard(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return err
	}
	if blockedAddr(ap.Addr()) {
		return ErrPrivateIP
	}
	return nil
}

// ExtractHost returns the host of a URL for logging. Paths and queries
// may carry secrets.
func ExtractHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid)"
	}
	return u.Host
}
