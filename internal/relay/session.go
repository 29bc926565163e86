package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"

	"github.com/rs/zerolog/log"
	"github.com/tunnelmesh/pmurelay/internal/election"
	"github.com/tunnelmesh/pmurelay/internal/metrics"
	"github.com/tunnelmesh/pmurelay/internal/mirrorlog"
	"github.com/tunnelmesh/pmurelay/internal/peer"
	"github.com/tunnelmesh/pmurelay/internal/replication"
)

// DefaultBindPort is the local port every relay instance binds for its
// source connection, so the source sees the same identity after failover.
const DefaultBindPort uint16 = 6667

// MirrorOptions configures the optional mirror log.
type MirrorOptions struct {
	Prefix   string
	MaxBytes int64
	MaxFiles int64
}

// Options are the arguments of one relay session.
type Options struct {
	SourceHost string
	SourcePort string
	SinkHost   string
	SinkPort   string
	SessionID  string

	Mirror MirrorOptions

	// ReplicationAddr is the host:port of the replication service. Empty
	// means the resolved source address.
	ReplicationAddr string
	LivenessPort    uint16
	BindPort        uint16
	BufferSize      int

	// Progress receives the human-readable milestones. Nil discards them.
	Progress io.Writer
	Metrics  *metrics.RelayMetrics
}

// Session runs the bootstrap sequence and then the copy engine for one
// stream. A Session is used once.
type Session struct {
	opts     Options
	liveness *election.Listener
}

// NewSession creates a session with defaults applied to opts.
func NewSession(opts Options) *Session {
	if opts.LivenessPort == 0 {
		opts.LivenessPort = election.DefaultLivenessPort
	}
	if opts.BindPort == 0 {
		opts.BindPort = DefaultBindPort
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	return &Session{opts: opts}
}

func (s *Session) progress(msg string) {
	_, _ = fmt.Fprintln(s.opts.Progress, msg)
}

// Run resolves both peers, elects a role against the replication service,
// connects the stream and copies it until the source closes. Every failure
// is fatal and returned wrapped with the step that failed. The liveness
// listener started along the way outlives Run; Close stops it.
func (s *Session) Run(ctx context.Context) error {
	o := s.opts

	source, err := peer.Resolve(ctx, o.SourceHost, o.SourcePort)
	if err != nil {
		return fmt.Errorf("resolving data source: %w", err)
	}
	sink, err := peer.Resolve(ctx, o.SinkHost, o.SinkPort)
	if err != nil {
		return fmt.Errorf("resolving data sink: %w", err)
	}

	s.progress("Connecting to TCPR.")
	service, err := s.replicationAddr(ctx, source)
	if err != nil {
		return fmt.Errorf("connecting to TCPR: %w", err)
	}
	client, err := replication.Dial(ctx, service)
	if err != nil {
		return fmt.Errorf("connecting to TCPR: %w", err)
	}
	defer func() { _ = client.Close() }()

	id := replication.Identity{LocalPort: o.BindPort, Peer: source}

	s.progress("Waiting for existing master, if any.")
	rec, err := client.Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("getting TCPR state: %w", err)
	}

	coord := &election.Coordinator{Claimer: client, LivenessPort: o.LivenessPort}
	role, rec, err := coord.Elect(ctx, rec, id)
	if err != nil {
		return fmt.Errorf("waiting for existing master: %w", err)
	}
	if role.Recovering() {
		s.progress("Recovering from failed master.")
	} else {
		s.progress("Creating fresh connection.")
	}
	o.Metrics.SetRole(role.String())
	log.Info().
		Str("identity", id.String()).
		Str("role", role.String()).
		Uint32("ack", rec.Ack).
		Msg("session role decided")

	s.liveness = election.NewListener(o.LivenessPort, o.Metrics)
	if err := s.liveness.Start(ctx); err != nil {
		return fmt.Errorf("starting liveness listener: %w", err)
	}

	s.progress("Connecting to data source.")
	src, err := peer.Connect(ctx, source, o.BindPort)
	if err != nil {
		return fmt.Errorf("connecting to data source: %w", err)
	}
	defer func() { _ = src.Close() }()

	s.progress("Connecting to data sink.")
	dst, err := peer.Connect(ctx, sink, 0)
	if err != nil {
		return fmt.Errorf("connecting to data sink: %w", err)
	}
	defer func() { _ = dst.Close() }()

	// Blocking reads and writes have no deadlines; cancellation tears the
	// stream sockets down instead.
	stop := context.AfterFunc(ctx, func() {
		_ = src.Close()
		_ = dst.Close()
	})
	defer stop()

	var mirror io.Writer
	if o.Mirror.Prefix != "" {
		s.progress("Opening log.")
		w, err := mirrorlog.Open(o.Mirror.Prefix, o.Mirror.MaxBytes, o.Mirror.MaxFiles)
		if err != nil {
			return fmt.Errorf("opening log: %w", err)
		}
		w.OnRotate = func(string) { o.Metrics.ObserveRotation() }
		defer func() {
			if err := w.Close(); err != nil {
				log.Warn().Err(err).Str("file", w.Name()).Msg("closing mirror log")
			}
		}()
		mirror = w
	}

	// The service has seen the new source connection by now; pick up the
	// record it holds for it.
	rec, err = client.Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("getting TCPR state: %w", err)
	}

	if !role.Recovering() {
		s.progress("Sending ID to data source.")
	}
	s.progress("Copying data from source to sink.")

	engine := &Engine{
		Source:     src,
		Sink:       dst,
		Mirror:     mirror,
		Acks:       client,
		Metrics:    o.Metrics,
		BufferSize: o.BufferSize,
	}
	if err := engine.Run(ctx, rec, o.SessionID, role.Recovering()); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}

	s.progress("Done.")
	return nil
}

// Close stops the liveness listener, dropping any standby watching this
// instance.
func (s *Session) Close() error {
	if s.liveness == nil {
		return nil
	}
	return s.liveness.Close()
}

func (s *Session) replicationAddr(ctx context.Context, source netip.AddrPort) (netip.AddrPort, error) {
	if s.opts.ReplicationAddr == "" {
		return source, nil
	}
	host, port, err := net.SplitHostPort(s.opts.ReplicationAddr)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return peer.Resolve(ctx, host, port)
}
