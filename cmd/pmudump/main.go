// pmudump receives C37.118 data frames and prints them one per line.
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
		csv      bool
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "pmudump [-p port]",
		Short: "Print the PMU frames received on a TCP port",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validPort(port)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			defer logging.Setup(logging.Options{Level: logLevel, Out: cmd.ErrOrStderr()})()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d := &pmutool.Dumper{Port: uint16(port), Out: cmd.OutOrStdout(), CSV: csv}
			if err := d.Listen(ctx); err != nil {
				return err
			}
			return d.Serve(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", pmutool.DefaultDumpPort, "TCP server port")
	cmd.Flags().BoolVar(&csv, "csv", false, "print frames as CSV records")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

func validPort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be positive integer below 65536, got %d", port)
	}
	return nil
}
