// Package relay forwards one stream from a source peer to a sink peer and
// replicates every acknowledged byte so a standby relay can resume it.
package relay

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/tunnelmesh/pmurelay/internal/metrics"
	"github.com/tunnelmesh/pmurelay/internal/replication"
)

// DefaultBufferSize is the largest chunk read from the source at once.
const DefaultBufferSize = 64 * 1024

// CopyError is a read or write failure on the source or the sink.
type CopyError struct {
	Op  string // "read", "write" or "send id"
	Err error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// LogError is a short write to the mirror log. The mirror must never drop
// forwarded data silently, so it is fatal.
type LogError struct {
	Written int
	Want    int
	Err     error
}

func (e *LogError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mirror log: wrote %d of %d bytes: %v", e.Written, e.Want, e.Err)
	}
	return fmt.Sprintf("mirror log: wrote %d of %d bytes", e.Written, e.Want)
}

func (e *LogError) Unwrap() error { return e.Err }

// AckPusher sends the replication record after every acknowledged write.
type AckPusher interface {
	PushAck(rec *replication.Record) error
}

// Engine is the steady-state copy loop. All fields except Mirror, Metrics
// and BufferSize are required. The engine mutates the record it is given
// and is driven by a single goroutine, so the record needs no locking.
type Engine struct {
	Source     io.ReadWriter
	Sink       io.Writer
	Mirror     io.Writer
	Acks       AckPusher
	Metrics    *metrics.RelayMetrics
	BufferSize int
}

// Run copies Source to Sink until the source reaches end of stream.
//
// On a fresh session sessionID is written to the source once, before the
// first read. A recovering session skips it: the source already associated
// the identity with the reused local address and port.
//
// Every write to the sink that accepts n > 0 bytes advances rec.Ack by n and
// pushes rec before the next write is attempted, so the replicated ack
// always equals what the sink has taken. At end of stream both done flags
// are set and the record is pushed one last time.
func (e *Engine) Run(ctx context.Context, rec *replication.Record, sessionID string, recovering bool) error {
	if !recovering && sessionID != "" {
		if _, err := io.WriteString(e.Source, sessionID); err != nil {
			return &CopyError{Op: "send id", Err: err}
		}
		log.Debug().Str("id", sessionID).Msg("sent session id to source")
	}

	size := e.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	buf := make([]byte, size)

	for {
		nr, err := e.Source.Read(buf)
		if nr > 0 {
			e.Metrics.ObserveRead(nr)
			if err := e.forward(rec, buf[:nr]); err != nil {
				return err
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &CopyError{Op: "read", Err: err}
		}
	}

	rec.DoneReading = true
	rec.DoneWriting = true
	if err := e.push(rec); err != nil {
		return err
	}
	log.Info().Uint32("ack", rec.Ack).Msg("source reached end of stream")
	return nil
}

func (e *Engine) forward(rec *replication.Record, chunk []byte) error {
	if e.Mirror != nil {
		n, err := e.Mirror.Write(chunk)
		if n > 0 {
			e.Metrics.ObserveMirror(n)
		}
		if err != nil || n < len(chunk) {
			return &LogError{Written: n, Want: len(chunk), Err: err}
		}
	}

	for off := 0; off < len(chunk); {
		n, err := e.Sink.Write(chunk[off:])
		if n > 0 {
			off += n
			rec.AddAck(n)
			e.Metrics.ObserveSinkWrite(n)
			if perr := e.push(rec); perr != nil {
				return perr
			}
		}
		if err != nil {
			return &CopyError{Op: "write", Err: err}
		}
		if n == 0 {
			return &CopyError{Op: "write", Err: io.ErrShortWrite}
		}
	}
	return nil
}

func (e *Engine) push(rec *replication.Record) error {
	if err := e.Acks.PushAck(rec); err != nil {
		return err
	}
	e.Metrics.ObservePush(rec.Ack)
	return nil
}
