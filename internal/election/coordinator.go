package election

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tunnelmesh/pmurelay/internal/peer"
	"github.com/tunnelmesh/pmurelay/internal/replication"
)

// DefaultLivenessPort is the well-known port every relay instance listens on
// so standbys can watch it.
const DefaultLivenessPort uint16 = 6666

// Claimer takes ownership of a replication record.
type Claimer interface {
	Claim(ctx context.Context, id replication.Identity) (*replication.Record, error)
}

// DialFunc opens a stream connection to a previous master's liveness port.
type DialFunc func(ctx context.Context, addr netip.AddrPort) (net.Conn, error)

// Coordinator runs the master-election and recovery handshake.
type Coordinator struct {
	Claimer      Claimer
	LivenessPort uint16
	// Dial defaults to peer.Connect without a local port.
	Dial DialFunc
}

// Elect inspects rec, as fetched from the replication service, and decides
// the role of this instance. A record without an owner is a fresh session
// and is returned unchanged without claiming. Otherwise Elect waits until the
// recorded master is unreachable or closes its liveness connection, then
// claims the record and returns the claimed copy.
func (c *Coordinator) Elect(ctx context.Context, rec *replication.Record, id replication.Identity) (Role, *replication.Record, error) {
	if !rec.Owned() {
		log.Debug().Str("identity", id.String()).Msg("no previous master recorded")
		return RoleFresh, rec, nil
	}

	master := netip.AddrPortFrom(rec.Address, c.livenessPort())
	conn, err := c.dial(ctx, master)
	if err != nil {
		log.Info().
			Str("master", master.String()).
			Err(err).
			Msg("previous master unreachable")
	} else {
		log.Info().
			Str("master", master.String()).
			Msg("previous master alive, waiting for it to go away")
		start := time.Now()
		err := WaitForClose(ctx, conn)
		_ = conn.Close()
		if err != nil {
			return 0, nil, err
		}
		log.Info().
			Str("master", master.String()).
			Dur("waited", time.Since(start)).
			Msg("previous master went away")
	}

	claimed, err := c.Claimer.Claim(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	return RoleRecovering, claimed, nil
}

func (c *Coordinator) livenessPort() uint16 {
	if c.LivenessPort == 0 {
		return DefaultLivenessPort
	}
	return c.LivenessPort
}

func (c *Coordinator) dial(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
	if c.Dial != nil {
		return c.Dial(ctx, addr)
	}
	conn, err := peer.Connect(ctx, addr, 0)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// WaitForClose blocks until the remote end of conn closes, resets, or ctx is
// done. Anything the peer sends is discarded: on a liveness connection only
// the closure carries meaning. It returns nil when the peer went away and
// ctx.Err() on cancellation.
func WaitForClose(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var buf [64]byte
	for {
		if _, err := conn.Read(buf[:]); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("liveness connection closed")
			}
			return nil
		}
	}
}
