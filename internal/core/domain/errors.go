package domain

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrRouteNotFound is returned by a resolution table when no entry exists for a key.
// Any other lookup error means the backend itself failed.
var ErrRouteNotFound = errors.New("route not found")

// ValidateDestination checks that a destination is an absolute http(s) URL with a host.
func ValidateDestination(destination string) (*url.URL, error) {
	u, err := url.Parse(destination)
	if err != nil {
		return nil, fmt.Errorf("parse destination: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("destination %q must be an http(s) URL with a host", destination)
	}
	return u, nil
}

// OriginHost returns the host of a validated destination as an origin domain:
// lower-cased, with the port dropped when it is the scheme's default.
func OriginHost(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" || (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}
