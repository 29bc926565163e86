// Package replicationtest provides an in-process replication service for
// tests. It keeps one record per connection identity, answers fetch
// requests and stores every other datagram as an update.
package replicationtest

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tunnelmesh/pmurelay/internal/replication"
)

type key struct {
	port     uint16
	peer     netip.Addr
	peerPort uint16
}

func keyOf(r *replication.Record) key {
	return key{port: r.Port, peer: r.PeerAddress, peerPort: r.PeerPort}
}

// Server is a fake replication service listening on 127.0.0.1.
type Server struct {
	conn *net.UDPConn

	mu      sync.Mutex
	records map[key]replication.Record
	updates []replication.Record
	fetches int
	silent  bool
	notify  chan struct{}

	closed atomic.Bool
}

// NewServer starts a fake service on an ephemeral loopback port.
func NewServer() (*Server, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	s := &Server{
		conn:    conn,
		records: make(map[key]replication.Record),
		notify:  make(chan struct{}, 1),
	}
	go s.serve()
	return s, nil
}

// AddrPort returns the address clients should dial.
func (s *Server) AddrPort() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Set stores rec as the current record for its identity.
func (s *Server) Set(rec replication.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[keyOf(&rec)] = rec
}

// Record returns the stored record for id.
func (s *Server) Record(id replication.Identity) (replication.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key{port: id.LocalPort, peer: id.Peer.Addr(), peerPort: id.Peer.Port()}]
	return rec, ok
}

// SetSilent makes the server stop answering fetches.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// Updates returns every update received so far, in arrival order.
func (s *Server) Updates() []replication.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]replication.Record(nil), s.updates...)
}

// Fetches returns the number of fetch requests received.
func (s *Server) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// WaitForUpdates blocks until at least n updates arrived or timeout
// elapses, and returns what was received.
func (s *Server) WaitForUpdates(n int, timeout time.Duration) []replication.Record {
	deadline := time.After(timeout)
	for {
		if u := s.Updates(); len(u) >= n {
			return u
		}
		select {
		case <-s.notify:
		case <-deadline:
			return s.Updates()
		}
	}
}

// Close stops the server.
func (s *Server) Close() error {
	s.closed.Store(true)
	return s.conn.Close()
}

func (s *Server) serve() {
	buf := make([]byte, 512)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.closed.Load() {
				return
			}
			continue
		}

		var rec replication.Record
		if err := rec.UnmarshalBinary(buf[:n]); err != nil {
			continue
		}

		if isFetch(&rec) {
			s.handleFetch(&rec, from)
			continue
		}

		s.mu.Lock()
		s.records[keyOf(&rec)] = rec
		s.updates = append(s.updates, rec)
		s.mu.Unlock()

		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func (s *Server) handleFetch(req *replication.Record, from *net.UDPAddr) {
	s.mu.Lock()
	s.fetches++
	reply, ok := s.records[keyOf(req)]
	silent := s.silent
	s.mu.Unlock()

	if silent {
		return
	}
	if !ok {
		reply = *req
	}
	data, _ := reply.MarshalBinary()
	_, _ = s.conn.WriteToUDP(data, from)
}

// isFetch reports whether rec carries only identity fields. The relay never
// pushes such a record: every push follows accepted bytes or sets a done flag.
func isFetch(rec *replication.Record) bool {
	return !rec.Owned() && rec.Ack == 0 && !rec.DoneReading && !rec.DoneWriting
}
