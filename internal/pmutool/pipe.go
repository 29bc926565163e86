package pmutool

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/tunnelmesh/pmurelay/internal/peer"
)

// Pipe connects to inPort and outPort on localhost and copies everything
// read from the first to the second until the input closes.
func Pipe(ctx context.Context, inPort, outPort uint16) (int64, error) {
	in, err := dialLocal(ctx, inPort)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	out, err := dialLocal(ctx, outPort)
	if err != nil {
		return 0, err
	}
	defer func() { _ = out.Close() }()

	stop := context.AfterFunc(ctx, func() {
		_ = in.Close()
		_ = out.Close()
	})
	defer stop()

	n, err := io.Copy(out, in)
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, fmt.Errorf("copy: %w", err)
	}
	return n, nil
}

func dialLocal(ctx context.Context, port uint16) (*net.TCPConn, error) {
	addr, err := peer.Resolve(ctx, "localhost", strconv.Itoa(int(port)))
	if err != nil {
		return nil, err
	}
	return peer.Connect(ctx, addr, 0)
}
