// Package config handles configuration loading and validation for pmurelay.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tunnelmesh/pmurelay/pkg/bytesize"
	"gopkg.in/yaml.v3"
)

// Defaults shared by every relay instance of a deployment.
const (
	DefaultLivenessPort = 6666
	DefaultBindPort     = 6667
	DefaultBufferSize   = 64 * 1024
	DefaultLogLevel     = "info"
)

// MirrorLogConfig holds configuration for the mirror log of the forwarded stream.
type MirrorLogConfig struct {
	Prefix   string        `yaml:"prefix"`    // File name prefix; empty disables the mirror log
	MaxSize  bytesize.Size `yaml:"max_size"`  // Bytes per file, 0 = one unbounded file
	MaxFiles int           `yaml:"max_files"` // Files to cycle through, 0 = unlimited
}

// RelayConfig holds configuration for a relay instance.
type RelayConfig struct {
	LivenessPort    int             `yaml:"liveness_port"`
	BindPort        int             `yaml:"bind_port"`
	ReplicationAddr string          `yaml:"replication_addr"` // host:port; empty = data source address
	BufferSize      bytesize.Size   `yaml:"buffer_size"`
	MetricsListen   string          `yaml:"metrics_listen"` // e.g. ":9100"; empty disables /metrics
	LogLevel        string          `yaml:"log_level"`
	MirrorLog       MirrorLogConfig `yaml:"mirror_log"`
}

// Default returns the configuration used when no file is given.
func Default() *RelayConfig {
	cfg := &RelayConfig{}
	cfg.applyDefaults()
	return cfg
}

// Load loads relay configuration from a YAML file.
func Load(path string) (*RelayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &RelayConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *RelayConfig) applyDefaults() {
	if c.LivenessPort == 0 {
		c.LivenessPort = DefaultLivenessPort
	}
	if c.BindPort == 0 {
		c.BindPort = DefaultBindPort
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	// Expand home directory in mirror log prefix
	if strings.HasPrefix(c.MirrorLog.Prefix, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.MirrorLog.Prefix = filepath.Join(homeDir, c.MirrorLog.Prefix[2:])
		}
	}
}

// Validate checks if the relay configuration is valid.
func (c *RelayConfig) Validate() error {
	if c.LivenessPort <= 0 || c.LivenessPort > 65535 {
		return fmt.Errorf("liveness_port must be between 1 and 65535")
	}
	if c.BindPort <= 0 || c.BindPort > 65535 {
		return fmt.Errorf("bind_port must be between 1 and 65535")
	}
	if c.LivenessPort == c.BindPort {
		return fmt.Errorf("liveness_port and bind_port must differ")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive")
	}
	if c.ReplicationAddr != "" {
		if _, _, err := net.SplitHostPort(c.ReplicationAddr); err != nil {
			return fmt.Errorf("invalid replication_addr: %w", err)
		}
	}
	if c.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(c.MetricsListen); err != nil {
			return fmt.Errorf("invalid metrics_listen: %w", err)
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.MirrorLog.MaxSize < 0 {
		return fmt.Errorf("mirror_log.max_size must not be negative")
	}
	if c.MirrorLog.MaxFiles < 0 {
		return fmt.Errorf("mirror_log.max_files must not be negative")
	}
	return nil
}
