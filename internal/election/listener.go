package election

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tunnelmesh/pmurelay/internal/metrics"
	"github.com/tunnelmesh/pmurelay/internal/peer"
)

// Listener accepts standby connections on the liveness port and holds each
// open until the standby disconnects. A standby reads "alive" from a
// connection that stays open and "dead" from a refused or dropped one.
// It touches no session state.
type Listener struct {
	port    uint16
	metrics *metrics.RelayMetrics

	ln     net.Listener
	mu     sync.Mutex
	cur    net.Conn
	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// Accept failures such as EMFILE are retried after a pause that doubles up
// to maxAcceptBackoff and resets on the next successful accept.
var (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// NewListener creates a liveness listener for port. m may be nil.
func NewListener(port uint16, m *metrics.RelayMetrics) *Listener {
	if port == 0 {
		port = DefaultLivenessPort
	}
	return &Listener{port: port, metrics: m, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start binds the liveness port and serves it in the background for the rest
// of the process lifetime. A bind failure is returned; accept failures are
// logged and the loop keeps going.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := peer.Listen(ctx, l.port)
	if err != nil {
		return err
	}
	l.ln = ln
	log.Info().Str("addr", ln.Addr().String()).Msg("liveness listener started")

	go l.serve()
	return nil
}

// Addr returns the bound address. Only valid after Start.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting and drops the standby currently being held, which
// is exactly what a standby observes when this process dies.
func (l *Listener) Close() error {
	if l.ln == nil || l.closed.Swap(true) {
		return nil
	}
	close(l.stop)
	err := l.ln.Close()

	l.mu.Lock()
	if l.cur != nil {
		_ = l.cur.Close()
	}
	l.mu.Unlock()

	<-l.done
	return err
}

func (l *Listener) serve() {
	defer close(l.done)

	var backoff time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			log.Error().Err(err).Dur("retry_in", backoff).Msg("liveness accept error")
			select {
			case <-l.stop:
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		l.mu.Lock()
		if l.closed.Load() {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		l.cur = conn
		l.mu.Unlock()

		l.metrics.ObserveProbe()
		log.Info().Str("standby", conn.RemoteAddr().String()).Msg("standby watching")

		_ = WaitForClose(context.Background(), conn)
		_ = conn.Close()

		l.mu.Lock()
		l.cur = nil
		l.mu.Unlock()

		log.Info().Str("standby", conn.RemoteAddr().String()).Msg("standby left")
	}
}
