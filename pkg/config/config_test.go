package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/call-tracer/pkg/config"
)

const minimal = `
logging: debug
apiAddr: ":8080"
ethereum:
  execution:
    - name: geth
      nodeAddress: http://localhost:8545
redis:
  address: localhost:6379
stateManager:
  storage:
    addr: localhost:9000
processors:
  leaderElection:
    enabled: false
  callTrace:
    enabled: true
    addr: localhost:9000
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(minimal))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LoggingLevel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, ":8080", *cfg.APIAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "call-tracer", cfg.Redis.Prefix)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "admin_call_trace_block", cfg.StateManager.Storage.Table)
	assert.False(t, cfg.Processors.LeaderElection.Enabled)
	assert.True(t, cfg.Processors.Scheduler.Enabled)
	assert.Equal(t, 12*time.Second, cfg.Processors.Scheduler.Interval)
	assert.Equal(t, "call_trace_frame", cfg.Processors.CallTrace.Table)
	assert.Equal(t, 8, cfg.Processors.CallTrace.Concurrency)
	assert.Equal(t, time.Minute, cfg.Ethereum.Execution[0].TraceTimeout)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "no redis", yaml: "ethereum: {execution: [{name: a, nodeAddress: http://x}]}", want: "redis"},
		{name: "no nodes", yaml: "redis: {address: x:6379}", want: "ethereum"},
		{
			name: "storage missing addr",
			yaml: "redis: {address: x:6379}\nethereum: {execution: [{name: a, nodeAddress: http://x}]}",
			want: "state manager",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Parse([]byte(tt.yaml))
			require.NoError(t, err)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "geth", cfg.Ethereum.Execution[0].Name)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
