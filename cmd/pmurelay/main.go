// pmurelay forwards one PMU stream from a data source to a data sink and
// takes the stream over from a failed relay instance without either peer
// noticing.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tunnelmesh/pmurelay/internal/admin"
	"github.com/tunnelmesh/pmurelay/internal/config"
	"github.com/tunnelmesh/pmurelay/internal/logging"
	"github.com/tunnelmesh/pmurelay/internal/metrics"
	"github.com/tunnelmesh/pmurelay/internal/relay"
	"github.com/tunnelmesh/pmurelay/internal/tracing"
	"github.com/tunnelmesh/pmurelay/pkg/bytesize"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type flags struct {
	cfgFile       string
	logLevel      string
	logFile       string
	logSize       bytesize.Size
	logCount      int
	metricsListen string
	lokiURL       string
	enableTracing bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return (&flags{}).command()
}

func (f *flags) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pmurelay [flags] src-host src-port stream-id dst-host dst-port",
		Short: "Failover-aware relay for PMU data streams",
		Long: `pmurelay connects to a data source, sends it the stream id, and copies
everything the source sends to the data sink. Every byte the sink accepts is
recorded with the TCPR replication service, so a standby pmurelay started
with the same arguments on another host takes the stream over when this
instance dies.

Examples:
  # Relay stream 17 from a PDC to a historian, keeping 4 x 10MB of mirror log
  pmurelay -l /var/log/pmu/stream17. -s 10MB -n 4 pdc.local 4712 17 historian.local 4713

  # Same, with ports and metrics from a config file
  pmurelay --config /etc/pmurelay.yaml pdc.local 4712 17 historian.local 4713`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		Args:    f.validate,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Past argument checking, failures are runtime errors: no usage.
			cmd.SilenceUsage = true
			return f.run(cmd, args)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.logFile, "log-file", "l", "", "prefix of mirror log file name (default: no logging)")
	fl.VarP(&f.logSize, "log-size", "s", "maximum size of a log file, e.g. 1048576 or 10MB (default unlimited)")
	fl.IntVarP(&f.logCount, "log-count", "n", 0, "maximum number of log files (default unlimited)")
	fl.StringVar(&f.cfgFile, "config", "", "YAML config file (ports, replication address, metrics)")
	fl.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	fl.StringVar(&f.metricsListen, "metrics-listen", "", "address to serve /health, /metrics and /debug/trace on, e.g. :9100 (default disabled)")
	fl.BoolVar(&f.enableTracing, "enable-tracing", false, "keep a runtime trace served at /debug/trace on the metrics address")
	fl.StringVar(&f.lokiURL, "loki-url", "", "Loki base URL to ship logs to (default disabled)")

	return cmd
}

func (f *flags) validate(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(5)(cmd, args); err != nil {
		return err
	}
	if cmd.Flags().Changed("log-size") && f.logSize <= 0 {
		return fmt.Errorf("log size must be a positive number of bytes")
	}
	if cmd.Flags().Changed("log-count") && f.logCount <= 0 {
		return fmt.Errorf("log count must be a positive integer")
	}
	return nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (f *flags) loadConfig(cmd *cobra.Command) (*config.RelayConfig, error) {
	cfg := config.Default()
	if f.cfgFile != "" {
		var err error
		if cfg, err = config.Load(f.cfgFile); err != nil {
			return nil, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("metrics-listen") {
		cfg.MetricsListen = f.metricsListen
	}
	if changed("log-file") {
		cfg.MirrorLog.Prefix = f.logFile
	}
	if changed("log-size") {
		cfg.MirrorLog.MaxSize = f.logSize
	}
	if changed("log-count") {
		cfg.MirrorLog.MaxFiles = f.logCount
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (f *flags) run(cmd *cobra.Command, args []string) error {
	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return err
	}
	// From here on errors are reported through the logger.
	cmd.SilenceErrors = true

	instanceID := uuid.NewString()
	stopLogs := logging.Setup(logging.Options{
		Level:   cfg.LogLevel,
		LokiURL: f.lokiURL,
		Labels:  map[string]string{"instance_id": instanceID, "stream": args[2]},
		Out:     cmd.ErrOrStderr(),
	})
	defer stopLogs()

	log.Info().
		Str("instance_id", instanceID).
		Str("version", Version).
		Str("source", args[0]+":"+args[1]).
		Str("sink", args[3]+":"+args[4]).
		Msg("pmurelay starting")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var tracer *tracing.Recorder
	if f.enableTracing {
		if tracer, err = tracing.Start(tracing.DefaultBufferSize); err != nil {
			log.Warn().Err(err).Msg("runtime tracing unavailable")
		} else {
			defer tracer.Stop()
		}
	}

	m := metrics.InitMetrics(instanceID, Version)
	session := relay.NewSession(relay.Options{
		SourceHost: args[0],
		SourcePort: args[1],
		SessionID:  args[2],
		SinkHost:   args[3],
		SinkPort:   args[4],
		Mirror: relay.MirrorOptions{
			Prefix:   cfg.MirrorLog.Prefix,
			MaxBytes: cfg.MirrorLog.MaxSize.Bytes(),
			MaxFiles: int64(cfg.MirrorLog.MaxFiles),
		},
		ReplicationAddr: cfg.ReplicationAddr,
		LivenessPort:    uint16(cfg.LivenessPort),
		BindPort:        uint16(cfg.BindPort),
		BufferSize:      int(cfg.BufferSize.Bytes()),
		Progress:        cmd.OutOrStdout(),
		Metrics:         m,
	})
	defer func() { _ = session.Close() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return session.Run(gctx)
	})
	if cfg.MetricsListen != "" {
		srv := admin.NewServer(tracer)
		g.Go(func() error { return srv.Serve(gctx, cfg.MetricsListen) })
	}

	err = g.Wait()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) && cmd.Context().Err() == nil:
		log.Info().Msg("interrupted, shutting down")
		return nil
	default:
		log.Error().Err(err).Msg("relay failed")
		return err
	}
}
