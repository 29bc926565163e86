package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunnelmesh/pmurelay/pkg/bytesize"
	"github.com/tunnelmesh/pmurelay/testutil"
)

func TestLoad(t *testing.T) {
	content := `
liveness_port: 7000
bind_port: 7001
replication_addr: "10.0.0.5:4000"
buffer_size: 16KB
metrics_listen: ":9100"
log_level: debug
mirror_log:
  prefix: /var/log/pmurelay/stream.
  max_size: 10MB
  max_files: 4
`
	cfg, err := Load(testutil.TempFile(t, "relay.yaml", content))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.LivenessPort)
	assert.Equal(t, 7001, cfg.BindPort)
	assert.Equal(t, "10.0.0.5:4000", cfg.ReplicationAddr)
	assert.Equal(t, bytesize.Size(16*1024), cfg.BufferSize)
	assert.Equal(t, ":9100", cfg.MetricsListen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/log/pmurelay/stream.", cfg.MirrorLog.Prefix)
	assert.Equal(t, bytesize.Size(10*1024*1024), cfg.MirrorLog.MaxSize)
	assert.Equal(t, 4, cfg.MirrorLog.MaxFiles)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(testutil.TempFile(t, "relay.yaml", "metrics_listen: \"127.0.0.1:9100\"\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLivenessPort, cfg.LivenessPort)
	assert.Equal(t, DefaultBindPort, cfg.BindPort)
	assert.Equal(t, bytesize.Size(DefaultBufferSize), cfg.BufferSize)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Empty(t, cfg.ReplicationAddr)
	assert.Empty(t, cfg.MirrorLog.Prefix)
	assert.Equal(t, Default().LivenessPort, cfg.LivenessPort)
}

func TestLoad_NumericSizes(t *testing.T) {
	cfg, err := Load(testutil.TempFile(t, "relay.yaml", "buffer_size: 4096\nmirror_log:\n  max_size: 1048576\n"))
	require.NoError(t, err)

	assert.Equal(t, bytesize.Size(4096), cfg.BufferSize)
	assert.Equal(t, bytesize.Size(1048576), cfg.MirrorLog.MaxSize)
}

func TestLoad_ExpandHomePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	cfg, err := Load(testutil.TempFile(t, "relay.yaml", "mirror_log:\n  prefix: \"~/pmu/log.\"\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "pmu/log."), cfg.MirrorLog.Prefix)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/relay.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(testutil.TempFile(t, "relay.yaml", "liveness_port: [1, 2\n"))
	assert.Error(t, err)

	_, err = Load(testutil.TempFile(t, "bad-size.yaml", "buffer_size: lots\n"))
	assert.Error(t, err)
}

func TestRelayConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*RelayConfig)
		wantErr string
	}{
		{name: "defaults", modify: func(*RelayConfig) {}},
		{
			name:    "liveness port out of range",
			modify:  func(c *RelayConfig) { c.LivenessPort = 70000 },
			wantErr: "liveness_port",
		},
		{
			name:    "bind port negative",
			modify:  func(c *RelayConfig) { c.BindPort = -1 },
			wantErr: "bind_port",
		},
		{
			name:    "ports collide",
			modify:  func(c *RelayConfig) { c.BindPort = c.LivenessPort },
			wantErr: "must differ",
		},
		{
			name:    "zero buffer",
			modify:  func(c *RelayConfig) { c.BufferSize = 0 },
			wantErr: "buffer_size",
		},
		{
			name:    "replication address without port",
			modify:  func(c *RelayConfig) { c.ReplicationAddr = "10.0.0.5" },
			wantErr: "replication_addr",
		},
		{
			name:    "metrics address without port",
			modify:  func(c *RelayConfig) { c.MetricsListen = "localhost" },
			wantErr: "metrics_listen",
		},
		{
			name:    "unknown log level",
			modify:  func(c *RelayConfig) { c.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "negative mirror size",
			modify:  func(c *RelayConfig) { c.MirrorLog.MaxSize = -5 },
			wantErr: "max_size",
		},
		{
			name:    "negative mirror count",
			modify:  func(c *RelayConfig) { c.MirrorLog.MaxFiles = -1 },
			wantErr: "max_files",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
