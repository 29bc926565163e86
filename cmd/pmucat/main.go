// pmucat copies a TCP stream from one local port to another.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tunnelmesh/pmurelay/internal/logging"
	"github.com/tunnelmesh/pmurelay/internal/pmutool"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "pmucat in-port out-port",
		Short: "Pipe a localhost TCP stream into another localhost port",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parsePort(args[0])
			if err != nil {
				return err
			}
			out, err := parsePort(args[1])
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			defer logging.Setup(logging.Options{Level: logLevel, Out: cmd.ErrOrStderr()})()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := pmutool.Pipe(ctx, in, out)
			log.Debug().Int64("bytes", n).Msg("pipe finished")
			return err
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil || p == 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(p), nil
}
