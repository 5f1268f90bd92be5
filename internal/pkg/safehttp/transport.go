// Package safehttp builds upstream transports for custom origins.
package safehttp

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Options describe how to reach a custom origin.
type Options struct {
	// SSLProtocols lists the permitted protocol names, e.g. "TLSv1.2".
	SSLProtocols     []string
	ReadTimeout      time.Duration // time to wait for response headers
	KeepaliveTimeout time.Duration // idle connection lifetime
	DialTimeout      time.Duration
	// AllowPrivate permits loopback, private and link-local upstreams.
	AllowPrivate bool
}

var protocolVersions = map[string]uint16{
	"TLSv1":   tls.VersionTLS10,
	"TLSv1.1": tls.VersionTLS11,
	"TLSv1.2": tls.VersionTLS12,
	"TLSv1.3": tls.VersionTLS13,
}

// TLSVersions returns the lowest and highest TLS versions named in protocols.
// SSLv3 is accepted but ignored since crypto/tls does not implement it.
func TLSVersions(protocols []string) (minVersion, maxVersion uint16, err error) {
	for _, p := range protocols {
		if p == "SSLv3" {
			continue
		}
		v, ok := protocolVersions[p]
		if !ok {
			return 0, 0, fmt.Errorf("unsupported ssl protocol %q", p)
		}
		if minVersion == 0 || v < minVersion {
			minVersion = v
		}
		if v > maxVersion {
			maxVersion = v
		}
	}
	if minVersion == 0 {
		return 0, 0, fmt.Errorf("no usable TLS version in %v", protocols)
	}
	return minVersion, maxVersion, nil
}

// NewTransport returns a transport honouring opts. Unless AllowPrivate is
// set, connections to private or loopback IP ranges are rejected to reduce SSRF risk.
func NewTransport(opts Options) (*http.Transport, error) {
	minVersion, maxVersion, err := TLSVersions(opts.SSLProtocols)
	if err != nil {
		return nil, err
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	if !opts.AllowPrivate {
		dialer.Control = denyPrivate
	}

	return &http.Transport{
		Proxy:       nil,
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: minVersion,
			MaxVersion: maxVersion,
		},
		ForceAttemptHTTP2:     maxVersion >= tls.VersionTLS12,
		ResponseHeaderTimeout: opts.ReadTimeout,
		IdleConnTimeout:       opts.KeepaliveTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   16,
	}, nil
}

// denyPrivate runs after name resolution, before connecting.
func denyPrivate(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("failed to parse remote IP for %q", address)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("access to private IP %s is denied", ip)
	}
	return nil
}
