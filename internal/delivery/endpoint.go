package delivery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	ErrInvalidHost = errors.New("invalid host")
	ErrInvalidPort = errors.New("invalid port number")
)

// Endpoint identifies the remote logging server. It is immutable once built.
type Endpoint struct {
	host string
	port int
}

// NewEndpoint validates host and port (1-65535).
func NewEndpoint(host string, port int) (Endpoint, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Endpoint{}, ErrInvalidHost
	}
	if port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return Endpoint{host: host, port: port}, nil
}

// ParsePort parses a decimal port string and checks its range.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return p, nil
}

// ParseEndpoint parses a "host:port" address.
func ParseEndpoint(addr string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", addr, err)
	}
	port, err := ParsePort(portStr)
	if err != nil {
		return Endpoint{}, err
	}
	return NewEndpoint(host, port)
}

func (e Endpoint) Host() string { return e.host }
func (e Endpoint) Port() int    { return e.port }

// Address returns the dialable "host:port" form, bracketing IPv6 literals.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

func (e Endpoint) String() string { return e.Address() }
