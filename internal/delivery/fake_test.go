package delivery

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"
)

// fakeDialer records every dial and hands out in-memory connections.
type fakeDialer struct {
	mu       sync.Mutex
	dials    []time.Time
	addrs    []string
	closes   int
	payloads []string
	deadline []time.Time

	dialErr  func(i int) error
	writeErr func(i int) error
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := len(d.dials)
	d.dials = append(d.dials, time.Now())
	d.addrs = append(d.addrs, address)
	if d.dialErr != nil {
		if err := d.dialErr(i); err != nil {
			return nil, err
		}
	}
	c := &fakeConn{dialer: d, idx: i}
	if d.writeErr != nil {
		c.writeErr = d.writeErr(i)
	}
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *fakeDialer) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.payloads...)
}

type fakeConn struct {
	net.Conn
	dialer   *fakeDialer
	idx      int
	buf      bytes.Buffer
	closed   bool
	writeErr error
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.buf.Write(p)
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.dialer.mu.Lock()
	c.dialer.deadline = append(c.dialer.deadline, t)
	c.dialer.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.dialer.closes++
		if c.writeErr == nil {
			c.dialer.payloads = append(c.dialer.payloads, c.buf.String())
		}
	}
	return nil
}

// blockingDialer never connects; it waits for the context to end.
type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func mustEndpoint(host string, port int) Endpoint {
	ep, err := NewEndpoint(host, port)
	if err != nil {
		panic(err)
	}
	return ep
}
