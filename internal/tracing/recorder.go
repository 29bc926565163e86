// Package tracing keeps a rolling runtime trace of the relay so a stall in
// the copy loop can be inspected after the fact with `go tool trace`.
package tracing

import (
	"errors"
	"io"
	"runtime/trace"
	"sync"
	"time"
)

// DefaultBufferSize is the default size of the trace ring buffer (10MB).
const DefaultBufferSize = 10 * 1024 * 1024

// ErrNotEnabled is returned by Snapshot on a nil or stopped recorder.
var ErrNotEnabled = errors.New("tracing not enabled")

// Recorder wraps a flight recorder. A nil *Recorder is valid and disabled.
type Recorder struct {
	mu sync.Mutex
	fr *trace.FlightRecorder
}

// Start begins recording into a ring buffer of maxBytes (DefaultBufferSize
// when <= 0). Only one recorder can run per process.
func Start(maxBytes int) (*Recorder, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultBufferSize
	}
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   30 * time.Second,
		MaxBytes: uint64(maxBytes),
	})
	if err := fr.Start(); err != nil {
		return nil, err
	}
	return &Recorder{fr: fr}, nil
}

// Enabled reports whether the recorder is running.
func (r *Recorder) Enabled() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fr != nil
}

// Snapshot writes the buffered trace to w.
func (r *Recorder) Snapshot(w io.Writer) error {
	if r == nil {
		return ErrNotEnabled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return ErrNotEnabled
	}
	_, err := r.fr.WriteTo(w)
	return err
}

// Stop ends recording. It is safe to call more than once.
func (r *Recorder) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr != nil {
		r.fr.Stop()
		r.fr = nil
	}
}
