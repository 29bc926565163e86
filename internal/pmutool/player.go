package pmutool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/tunnelmesh/pmurelay/internal/c37"
	"github.com/tunnelmesh/pmurelay/internal/peer"
	"k8s.io/utils/clock"
)

// DefaultPlayFile is the recording replayed when no file is named.
const DefaultPlayFile = "out.0230.dat"

// ErrNoFrames is returned when the frame file holds no complete frame.
var ErrNoFrames = errors.New("no frames to play")

// Player replays a recorded frame file to each client, paced by the frame
// timestamps and restamped with the playback time.
type Player struct {
	Port uint16
	File string
	// Once plays the file a single time per connection instead of looping
	// until the client goes away.
	Once  bool
	Out   io.Writer
	Clock clock.Clock

	ln net.Listener
}

func (p *Player) clock() clock.Clock {
	if p.Clock == nil {
		return clock.RealClock{}
	}
	return p.Clock
}

// Listen binds the player port.
func (p *Player) Listen(ctx context.Context) error {
	ln, err := peer.Listen(ctx, p.Port)
	if err != nil {
		return err
	}
	p.ln = ln
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (p *Player) Addr() net.Addr {
	return p.ln.Addr()
}

// Serve plays to one client at a time until ctx is done.
func (p *Player) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = p.ln.Close() })
	defer stop()
	defer func() { _ = p.ln.Close() }()

	for {
		_, _ = fmt.Fprintln(p.Out, "Waiting for connection...")
		conn, err := p.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		_, _ = fmt.Fprintln(p.Out, "Got connection...")
		err = p.serveConn(ctx, conn)
		_ = conn.Close()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(p.Out, "Connection closed...")
	}
}

func (p *Player) serveConn(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		sent, err := p.Play(conn)
		var werr *writeError
		if errors.As(err, &werr) {
			log.Debug().Err(werr.err).Str("client", conn.RemoteAddr().String()).Msg("client went away")
			return nil
		}
		if err != nil {
			return err
		}
		if sent == 0 {
			return fmt.Errorf("%s: %w", p.file(), ErrNoFrames)
		}
		if p.Once || ctx.Err() != nil {
			return nil
		}
	}
}

type writeError struct{ err error }

func (e *writeError) Error() string { return "write: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

func (p *Player) file() string {
	if p.File == "" {
		return DefaultPlayFile
	}
	return p.File
}

// Play sends the file once to w and returns the number of frames sent.
// Frame i goes out when the playback clock reaches start + (t_i - t_0),
// stamped with that playback time.
func (p *Player) Play(w io.Writer) (int, error) {
	file := p.file()
	f, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	clk := p.clock()
	start := clk.Now()
	out := bufio.NewWriter(w)
	r := c37.NewReader(bufio.NewReader(f))

	sent := 0
	first, haveFirst := c37.Frame{}, false
	for {
		frame, err := r.Next()
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return sent, fmt.Errorf("%s: %w", file, err)
		}
		if !haveFirst {
			first, haveFirst = frame, true
		}

		at := start.Add(frame.Time().Sub(first.Time()))
		if wait := at.Sub(clk.Now()); wait > 0 {
			if err := out.Flush(); err != nil {
				return sent, &writeError{err}
			}
			clk.Sleep(wait)
		}

		frame.SetTime(at)
		data, err := frame.MarshalBinary()
		if err != nil {
			return sent, err
		}
		if _, err := out.Write(data); err != nil {
			return sent, &writeError{err}
		}
		sent++
	}

	if err := out.Flush(); err != nil {
		return sent, &writeError{err}
	}
	return sent, nil
}
