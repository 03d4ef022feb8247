package protocol

import (
	"net"
	"strconv"

	"golang.org/x/xerrors"
)

// Endpoint is a reachable peer address. Two endpoints are equal only when
// host and port match exactly; no DNS or IP normalization is applied.
type Endpoint struct {
	Host string
	Port int
}

// String renders the endpoint as host:port (brackets for IPv6 hosts).
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Valid reports whether the endpoint can be registered.
func (e Endpoint) Valid() bool {
	return e.Host != "" && validPort(e.Port)
}

// ParseEndpoint parses "host:port" as returned by GETPEERS.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, xerrors.Errorf("invalid endpoint %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || !validPort(port) {
		return Endpoint{}, xerrors.Errorf("invalid endpoint port in %q", s)
	}
	if host == "" {
		return Endpoint{}, xerrors.Errorf("invalid endpoint %q: empty host", s)
	}
	return Endpoint{Host: host, Port: port}, nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
