package replication

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNoLocalAddress is returned by Claim when the datagram socket has no
// concrete local IPv4 address to stamp into the record.
var ErrNoLocalAddress = errors.New("no local address to claim with")

// ReplicationError wraps any send or receive failure on the replication
// channel. It is always fatal to the session; nothing is retried.
type ReplicationError struct {
	Op  string
	Err error
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("replication %s: %v", e.Op, e.Err)
}

func (e *ReplicationError) Unwrap() error { return e.Err }

// Client talks to the replication service over one connected UDP socket.
// It is not safe for concurrent use; the relay drives it from a single
// goroutine.
type Client struct {
	conn *net.UDPConn
	buf  []byte
}

// Dial connects a datagram socket to the replication service at addr.
func Dial(ctx context.Context, addr netip.AddrPort) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", addr.String())
	if err != nil {
		return nil, &ReplicationError{Op: "dial", Err: err}
	}
	log.Debug().
		Str("service", addr.String()).
		Str("local", conn.LocalAddr().String()).
		Msg("connected to replication service")
	return NewClient(conn.(*net.UDPConn)), nil
}

// NewClient wraps an already connected UDP socket.
func NewClient(conn *net.UDPConn) *Client {
	return &Client{conn: conn, buf: make([]byte, 512)}
}

// LocalAddr returns the address the datagram socket is bound to.
func (c *Client) LocalAddr() netip.Addr {
	ua, ok := c.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}
	}
	return ua.AddrPort().Addr().Unmap()
}

// Fetch asks the service for the record of id. The reply is either the
// existing record or an empty one for a connection nobody has seen yet.
func (c *Client) Fetch(ctx context.Context, id Identity) (*Record, error) {
	rec, err := c.fetch(ctx, id)
	if err != nil {
		return nil, &ReplicationError{Op: "fetch", Err: err}
	}
	return rec, nil
}

// Claim takes ownership of id's record by stamping this instance's address
// into it. The local address is read before fetching so that the record is
// sent back complete in a single datagram. Call it only after the previous
// owner has been observed dead.
func (c *Client) Claim(ctx context.Context, id Identity) (*Record, error) {
	local := c.LocalAddr()
	if !local.Is4() || local.IsUnspecified() {
		return nil, &ReplicationError{Op: "claim", Err: ErrNoLocalAddress}
	}

	rec, err := c.fetch(ctx, id)
	if err != nil {
		return nil, &ReplicationError{Op: "claim", Err: err}
	}

	prev := rec.Owner()
	rec.Address = local
	if err := c.send(rec); err != nil {
		return nil, &ReplicationError{Op: "claim", Err: err}
	}

	log.Info().
		Str("identity", id.String()).
		Str("previous", prev.String()).
		Str("owner", local.String()).
		Uint32("ack", rec.Ack).
		Msg("claimed replication record")
	return rec, nil
}

// PushAck sends the full record, including the current ack and done flags.
func (c *Client) PushAck(rec *Record) error {
	if err := c.send(rec); err != nil {
		return &ReplicationError{Op: "push", Err: err}
	}
	return nil
}

// Close closes the datagram socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) fetch(ctx context.Context, id Identity) (*Record, error) {
	rec := &Record{
		Port:        id.LocalPort,
		PeerAddress: id.Peer.Addr(),
		PeerPort:    id.Peer.Port(),
	}
	if err := c.send(rec); err != nil {
		return nil, err
	}

	// No timeout: a silent service blocks the relay. Cancellation only
	// unblocks the read.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, err := c.conn.Read(c.buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if err := rec.UnmarshalBinary(c.buf[:n]); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Client) send(rec *Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(data)
	return err
}
