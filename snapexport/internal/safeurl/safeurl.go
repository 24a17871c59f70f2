// Package safeurl vets page URLs received from remote triggers before a
// browser tab is pointed at them.
package safeurl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrScheme is returned for anything other than http and https.
var ErrScheme = errors.New("safeurl: only http and https schemes are allowed")

// ErrPrivate is returned when a URL targets a loopback, link-local or
// private address.
var ErrPrivate = errors.New("safeurl: URL targets a private or loopback address")

// ErrHost is returned for host names that are not valid IDNA.
var ErrHost = errors.New("safeurl: invalid host name")

var privateNets = mustCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"fc00::/7",
	"::1/128",
)

func mustCIDRs(ss ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(ss))
	for _, s := range ss {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Checker validates URLs.
type Checker struct {
	AllowPrivate bool
	Resolver     Resolver
}

// Check parses rawURL and rejects unsafe targets. Internationalised host
// names come back in their ASCII form. Hostnames are resolved and every
// address must be public. A lookup failure is let through: the
// navigation fails on its own.
func (c Checker) Check(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("safeurl: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, ErrScheme
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("safeurl: URL has no host")
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHost, err)
		}
		if ascii != host {
			host = ascii
			if port := u.Port(); port != "" {
				u.Host = net.JoinHostPort(host, port)
			} else {
				u.Host = host
			}
		}
	}
	if c.AllowPrivate {
		return u, nil
	}

	if ip != nil {
		if Private(ip) {
			return nil, ErrPrivate
		}
		return u, nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return nil, ErrPrivate
	}

	r := c.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return u, nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && Private(ip) {
			return nil, ErrPrivate
		}
	}
	return u, nil
}

// Private reports whether ip is loopback, link-local, unspecified or in a
// private range.
func Private(ip net.IP) bool {
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
