// Package peer resolves relay peers and opens the stream sockets to them.
package peer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// ResolutionError is returned when a peer host or port cannot be resolved.
type ResolutionError struct {
	Host string
	Port string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %v", net.JoinHostPort(e.Host, e.Port), e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ConnectError is returned for any socket-level failure while binding,
// listening or connecting.
type ConnectError struct {
	Op        string // "connect" or "listen"
	Addr      netip.AddrPort
	LocalPort uint16
	Err       error
}

func (e *ConnectError) Error() string {
	if e.LocalPort != 0 && e.Op == "connect" {
		return fmt.Sprintf("%s %s from local port %d: %v", e.Op, e.Addr, e.LocalPort, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Resolve looks up an IPv4 address for host and a TCP port number for port.
// Port may be numeric or a service name.
func Resolve(ctx context.Context, host, port string) (netip.AddrPort, error) {
	p, err := net.DefaultResolver.LookupPort(ctx, "tcp", port)
	if err != nil {
		return netip.AddrPort{}, &ResolutionError{Host: host, Port: port, Err: err}
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.AddrPort{}, &ResolutionError{Host: host, Port: port, Err: err}
	}
	if len(ips) == 0 {
		return netip.AddrPort{}, &ResolutionError{Host: host, Port: port, Err: fmt.Errorf("no IPv4 address")}
	}

	return netip.AddrPortFrom(ips[0].Unmap(), uint16(p)), nil
}

// Connect opens a TCP connection to addr. When localPort is non-zero the
// socket is bound to that port on all interfaces first, so a standby relay
// can present the same local identity to the peer after failover.
// There are no retries; the caller decides whether a failure is fatal.
func Connect(ctx context.Context, addr netip.AddrPort, localPort uint16) (*net.TCPConn, error) {
	var d net.Dialer
	if localPort != 0 {
		d.LocalAddr = &net.TCPAddr{Port: int(localPort)}
		d.Control = setReuseAddr
	}

	conn, err := d.DialContext(ctx, "tcp4", addr.String())
	if err != nil {
		return nil, &ConnectError{Op: "connect", Addr: addr, LocalPort: localPort, Err: err}
	}
	return conn.(*net.TCPConn), nil
}

// Listen binds a TCP listener on all IPv4 interfaces at port.
func Listen(ctx context.Context, port uint16) (net.Listener, error) {
	lc := net.ListenConfig{Control: setReuseAddr}
	l, err := lc.Listen(ctx, "tcp4", ":"+strconv.Itoa(int(port)))
	if err != nil {
		return nil, &ConnectError{
			Op:   "listen",
			Addr: netip.AddrPortFrom(netip.IPv4Unspecified(), port),
			Err:  err,
		}
	}
	return l, nil
}
