package withrottle

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service advertised by WiThrottle servers.
const (
	ServiceType   = "_withrottle._tcp"
	ServiceDomain = "local."
)

// NewMDNSResolver returns a Resolver that browses for a WiThrottle server
// and returns the first one found. Each call browses for at most wait.
func NewMDNSResolver(wait time.Duration) Resolver {
	if wait <= 0 {
		wait = defaultDiscoverWait
	}
	return func(ctx context.Context) (string, error) {
		return discover(ctx, wait)
	}
}

func discover(ctx context.Context, wait time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)

	go func() {
		browseErr <- zeroconf.Browse(ctx, ServiceType, ServiceDomain, entries, removed)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("%w: browse ended", ErrNoServer)
			}
			if addr := entryAddress(entry); addr != "" {
				return addr, nil
			}

		case <-removed:

		case err := <-browseErr:
			if err != nil {
				return "", fmt.Errorf("browse %s: %w", ServiceType, err)
			}
			// Browse may return while results are still delivered.
			browseErr = nil

		case <-ctx.Done():
			return "", fmt.Errorf("%w: no %s service within %v", ErrNoServer, ServiceType, wait)
		}
	}
}

// entryAddress prefers IPv4, then IPv6, then the advertised host name.
func entryAddress(e *zeroconf.ServiceEntry) string {
	if e == nil || e.Port <= 0 {
		return ""
	}
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	default:
		host = e.HostName
	}
	if host == "" {
		return ""
	}
	return net.JoinHostPort(host, strconv.Itoa(e.Port))
}
