package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := []byte(`
environment: production
log_level: debug
server:
  addr: ":9090"
  shutdown_timeout: 10s
ledger:
  rpc_url: http://ledger.internal:8545
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  probe_timeout: 2s
database:
  url: postgres://votebridge@localhost:5432/votebridge
  max_conns: 4
  min_conns: 1
scheduler:
  max_concurrent: 3
  sweep_schedule: "*/10 * * * * *"
  tally_sync_schedule: ""
security:
  vote_rate_limit: 2
  vote_rate_burst: 4
`)

	err := os.WriteFile(configPath, configContent, 0644)
	require.NoError(t, err)

	t.Run("LoadValidConfig", func(t *testing.T) {
		cfg, err := Load(configPath)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "production", cfg.Environment)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, ":9090", cfg.Server.Addr)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, "http://ledger.internal:8545", cfg.Ledger.RPCURL)
		assert.Equal(t, 2*time.Second, cfg.Ledger.ProbeTimeout)
		assert.Equal(t, 2*time.Minute, cfg.Ledger.TxTimeout)
		assert.Equal(t, 4, cfg.Database.MaxConns)
		assert.Equal(t, 3, cfg.Scheduler.MaxConcurrent)
		assert.Equal(t, "*/10 * * * * *", cfg.Scheduler.SweepSchedule)
		assert.Empty(t, cfg.Scheduler.TallySyncSchedule)
		assert.Equal(t, 2.0, cfg.Security.VoteRateLimit)
		assert.False(t, cfg.IsDevelopment())
	})

	t.Run("EnvironmentOverride", func(t *testing.T) {
		t.Setenv("VOTEBRIDGE_LOG_LEVEL", "error")
		t.Setenv("VOTEBRIDGE_LEDGER_USE_MOCK", "true")
		t.Setenv("VOTEBRIDGE_LEDGER_PRIVATE_KEY", "0xabc")

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, "error", cfg.LogLevel)
		assert.True(t, cfg.Ledger.UseMock)
		assert.Equal(t, "0xabc", cfg.Ledger.PrivateKey)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		invalidPath := filepath.Join(tmpDir, "invalid.yaml")
		err := os.WriteFile(invalidPath, []byte("invalid: [yaml: syntax"), 0644)
		require.NoError(t, err)

		cfg, err := Load(invalidPath)
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("MissingFileUsesDefaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(tmpDir, "missing.yaml"))
		require.NoError(t, err)

		assert.Equal(t, "development", cfg.Environment)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, "http://127.0.0.1:8545", cfg.Ledger.RPCURL)
		assert.True(t, cfg.Ledger.AutoInitialize)
		assert.Empty(t, cfg.Database.URL)
		assert.Equal(t, "*/30 * * * * *", cfg.Scheduler.SweepSchedule)
		assert.Equal(t, 24*time.Hour, cfg.Security.TokenExpiry)
		assert.True(t, cfg.IsDevelopment())
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Addr: ":8080", Mode: "release", ShutdownTimeout: time.Second},
			Ledger:    LedgerConfig{RPCURL: "http://127.0.0.1:8545", ProbeTimeout: time.Second, TxTimeout: time.Minute},
			Scheduler: SchedConfig{MaxConcurrent: 1},
			Security:  SecurityConfig{TokenExpiry: time.Hour},
		}
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errSubstr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "empty addr", mutate: func(c *Config) { c.Server.Addr = "" }, errSubstr: "addr cannot be empty"},
		{name: "bad gin mode", mutate: func(c *Config) { c.Server.Mode = "verbose" }, errSubstr: "mode must be"},
		{name: "bad rpc url", mutate: func(c *Config) { c.Ledger.RPCURL = "not a url" }, errSubstr: "invalid rpc_url"},
		{name: "zero probe timeout", mutate: func(c *Config) { c.Ledger.ProbeTimeout = 0 }, errSubstr: "probe_timeout"},
		{
			name: "database pool bounds",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{URL: "postgres://x", MaxConns: 1, MinConns: 2, Timeout: time.Second}
			},
			errSubstr: "min_conns",
		},
		{name: "zero workers", mutate: func(c *Config) { c.Scheduler.MaxConcurrent = 0 }, errSubstr: "max_concurrent"},
		{name: "short admin secret", mutate: func(c *Config) { c.Security.AdminSecret = "short" }, errSubstr: "admin_secret"},
		{
			name:      "rate limit without burst",
			mutate:    func(c *Config) { c.Security.VoteRateLimit = 1 },
			errSubstr: "vote_rate_burst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "WARN"}
	assert.Equal(t, zap.WarnLevel, cfg.GetLogLevel().Level())

	cfg.LogLevel = "unknown"
	assert.Equal(t, zap.InfoLevel, cfg.GetLogLevel().Level())
}
