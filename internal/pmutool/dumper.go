// Package pmutool implements the frame tools used around the relay: a
// receiver that prints frames, a paced replayer and a plain pipe.
package pmutool

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tunnelmesh/pmurelay/internal/c37"
	"github.com/tunnelmesh/pmurelay/internal/peer"
)

// Default ports of the tools.
const (
	DefaultDumpPort = 3360
	DefaultPlayPort = 3350
)

// Dumper accepts one connection at a time and prints every frame it
// receives.
type Dumper struct {
	Port uint16
	Out  io.Writer
	CSV  bool

	ln net.Listener
}

// Listen binds the dump port.
func (d *Dumper) Listen(ctx context.Context) error {
	ln, err := peer.Listen(ctx, d.Port)
	if err != nil {
		return err
	}
	d.ln = ln
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (d *Dumper) Addr() net.Addr {
	return d.ln.Addr()
}

// Serve prints frames from each accepted connection until ctx is done. A
// frame with the wrong size is fatal.
func (d *Dumper) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = d.ln.Close() })
	defer stop()
	defer func() { _ = d.ln.Close() }()

	for {
		_, _ = fmt.Fprintln(d.Out, "Waiting for connection...")
		conn, err := d.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		_, _ = fmt.Fprintln(d.Out, "Got connection...")
		err = d.dump(conn)
		_ = conn.Close()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(d.Out, "Connection closed...")
	}
}

func (d *Dumper) dump(conn net.Conn) error {
	var w *csv.Writer
	if d.CSV {
		w = csv.NewWriter(d.Out)
		defer w.Flush()
		_ = w.Write(csvHeader)
	}

	r := c37.NewReader(conn)
	frames := 0
	for {
		f, err := r.Next()
		if err != nil {
			if errors.Is(err, c37.ErrBadFrameSize) {
				return fmt.Errorf("frame %d from %s: %w", frames, conn.RemoteAddr(), err)
			}
			if err != io.EOF {
				log.Debug().Err(err).Int("frames", frames).Msg("stream ended")
			}
			return nil
		}
		frames++

		if w != nil {
			_ = w.Write(csvRecord(&f))
			continue
		}
		_, _ = fmt.Fprintln(d.Out, f.Readable())
	}
}

var csvHeader = []string{
	"time", "id", "stat",
	"voltage_amplitude", "voltage_angle",
	"current_amplitude", "current_angle",
	"frequency", "delta_frequency",
}

func csvRecord(f *c37.Frame) []string {
	float := func(v float32) string { return strconv.FormatFloat(float64(v), 'f', -1, 32) }
	return []string{
		f.Time().UTC().Format(time.RFC3339Nano),
		strconv.Itoa(int(f.IDCode)),
		strconv.Itoa(int(f.Stat)),
		float(f.VoltageAmplitude), float(f.VoltageAngle),
		float(f.CurrentAmplitude), float(f.CurrentAngle),
		float(f.Frequency), float(f.DeltaFrequency),
	}
}
