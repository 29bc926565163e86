// Package logging configures the global zerolog logger for the pmurelay
// binaries.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tunnelmesh/pmurelay/internal/logging/loki"
)

// Options selects the log level and optional Loki shipping.
type Options struct {
	Level   string
	LokiURL string
	Labels  map[string]string
	// Out defaults to os.Stderr. Stdout carries the relay's progress lines.
	Out io.Writer
}

// Setup installs the global logger. An unknown level falls back to info.
// The returned function flushes and stops Loki shipping; it is always safe
// to call.
func Setup(opts Options) func() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: out}

	if opts.LokiURL == "" {
		log.Logger = log.Output(console)
		return func() {}
	}

	shipper := loki.New(loki.Config{URL: opts.LokiURL, Labels: opts.Labels, Gzip: true})
	shipper.Start()
	log.Logger = log.Output(zerolog.MultiLevelWriter(console, shipper))
	return func() { _ = shipper.Close() }
}
