// pmuplay replays a recorded C37.118 frame file to every client that
// connects, in real time.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

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
	var (
		port     int
		file     string
		once     bool
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "pmuplay [-p port] [-f file]",
		Short: "Replay recorded PMU frames to TCP clients",
		Long: `pmuplay listens for connections and streams the frame file to each one,
pacing frames by their recorded timestamps and restamping them with the
current time. The file is replayed in a loop until the client disconnects.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if port <= 0 || port > 65535 {
				return fmt.Errorf("port must be positive integer below 65536, got %d", port)
			}
			if _, err := os.Stat(file); err != nil {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			defer logging.Setup(logging.Options{Level: logLevel, Out: cmd.ErrOrStderr()})()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := &pmutool.Player{Port: uint16(port), File: file, Once: once, Out: cmd.OutOrStdout()}
			if err := p.Listen(ctx); err != nil {
				return err
			}
			return p.Serve(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", pmutool.DefaultPlayPort, "TCP server port")
	cmd.Flags().StringVarP(&file, "file", "f", pmutool.DefaultPlayFile, "recorded frame file")
	cmd.Flags().BoolVar(&once, "once", false, "play the file once per connection")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}
