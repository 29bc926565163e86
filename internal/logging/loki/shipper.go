// Package loki ships zerolog output to Grafana Loki so the logs of every
// relay instance of a failover group end up side by side.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
)

const pushPath = "/loki/api/v1/push"

// Config holds configuration for the shipper.
type Config struct {
	URL           string            // Loki base URL, e.g. "http://10.0.0.9:3100"
	Labels        map[string]string // Static stream labels
	BatchSize     int               // Lines per push (default: 100)
	FlushInterval time.Duration     // Push at least this often (default: 5s)
	Timeout       time.Duration     // HTTP timeout per push (default: 10s)
	Gzip          bool              // Compress push bodies
}

// Shipper is an io.Writer that batches log lines and pushes them to Loki in
// the background. Writes never fail: when Loki is down lines are dropped.
type Shipper struct {
	url    string
	labels map[string]string
	gzip   bool
	client *http.Client

	mu      sync.Mutex
	pending [][2]string // {unix nanos, line}
	batch   int

	kick     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	pushing  atomic.Bool
	failures atomic.Uint64
	interval time.Duration
}

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// New creates a shipper. Call Start to begin pushing.
func New(cfg Config) *Shipper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	labels := map[string]string{"job": "pmurelay"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	return &Shipper{
		url:      cfg.URL + pushPath,
		labels:   labels,
		gzip:     cfg.Gzip,
		client:   &http.Client{Timeout: cfg.Timeout},
		batch:    cfg.BatchSize,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		interval: cfg.FlushInterval,
	}
}

// Write queues one log line. zerolog reuses p, so it is copied.
func (s *Shipper) Write(p []byte) (int, error) {
	line := string(bytes.TrimSpace(p))
	if line == "" {
		return len(p), nil
	}

	s.mu.Lock()
	s.pending = append(s.pending, [2]string{strconv.FormatInt(time.Now().UnixNano(), 10), line})
	full := len(s.pending) >= s.batch
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// Start runs the push loop until Close.
func (s *Shipper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Flush()
			case <-s.kick:
				s.Flush()
			}
		}
	}()
}

// Close stops the push loop and pushes whatever is still queued.
func (s *Shipper) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	s.Flush()
	return nil
}

// Failures returns how many pushes failed.
func (s *Shipper) Failures() uint64 {
	return s.failures.Load()
}

// Flush pushes the queued lines now. Concurrent calls collapse into one.
func (s *Shipper) Flush() {
	if !s.pushing.CompareAndSwap(false, true) {
		return
	}
	defer s.pushing.Store(false)

	s.mu.Lock()
	values := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(values) == 0 {
		return
	}

	if err := s.push(values); err != nil {
		// Only the first few failures are reported; logging them through
		// zerolog would feed straight back into this writer.
		if n := s.failures.Add(1); n <= 3 {
			fmt.Fprintf(os.Stderr, "loki: %v\n", err)
		}
	}
}

func (s *Shipper) push(values [][2]string) error {
	body, err := json.Marshal(pushRequest{Streams: []stream{{Stream: s.labels, Values: values}}})
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}

	if s.gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return fmt.Errorf("compress push: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress push: %w", err)
		}
		body = buf.Bytes()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("push: server returned status %d", resp.StatusCode)
	}
	return nil
}
