package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is prepended to every environment override, e.g. VOTEBRIDGE_LEDGER_RPC_URL
const EnvPrefix = "VOTEBRIDGE"

// Config holds all configuration settings for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Log         LogConfig      `mapstructure:"log"`
	Server      ServerConfig   `mapstructure:"server"`
	Ledger      LedgerConfig   `mapstructure:"ledger"`
	Database    DatabaseConfig `mapstructure:"database"`
	Scheduler   SchedConfig    `mapstructure:"scheduler"`
	Security    SecurityConfig `mapstructure:"security"`
}

// LogConfig holds log file rotation settings. An empty file logs to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LedgerConfig holds credentials and endpoint for the voting contract
type LedgerConfig struct {
	PrivateKey      string        `mapstructure:"private_key"`
	ContractAddress string        `mapstructure:"contract_address"`
	RPCURL          string        `mapstructure:"rpc_url"`
	UseMock         bool          `mapstructure:"use_mock"`
	AutoInitialize  bool          `mapstructure:"auto_initialize"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
}

// DatabaseConfig holds database connection settings. An empty URL keeps
// sessions in memory.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// SchedConfig holds scheduler related configuration. Empty schedules
// disable the corresponding periodic task.
type SchedConfig struct {
	MaxConcurrent     int    `mapstructure:"max_concurrent"`
	SweepSchedule     string `mapstructure:"sweep_schedule"`
	TallySyncSchedule string `mapstructure:"tally_sync_schedule"`
}

// SecurityConfig holds admin-token and rate-limit settings
type SecurityConfig struct {
	AdminSecret   string        `mapstructure:"admin_secret"`
	TokenExpiry   time.Duration `mapstructure:"token_expiry"`
	VoteRateLimit float64       `mapstructure:"vote_rate_limit"`
	VoteRateBurst int           `mapstructure:"vote_rate_burst"`
}

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default configuration values
	setDefaults(v)

	// Read the config file; a missing file leaves defaults and env vars
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("failed to read config file: %w", err)
				}
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Parse the configuration
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options. Keys
// without a default are not picked up from the environment.
func setDefaults(v *viper.Viper) {
	// General defaults
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Log defaults
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "3m")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Ledger defaults
	v.SetDefault("ledger.private_key", "")
	v.SetDefault("ledger.contract_address", "")
	v.SetDefault("ledger.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("ledger.use_mock", false)
	v.SetDefault("ledger.auto_initialize", true)
	v.SetDefault("ledger.probe_timeout", "5s")
	v.SetDefault("ledger.tx_timeout", "2m")

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.timeout", "30s")

	// Scheduler defaults
	v.SetDefault("scheduler.max_concurrent", 10)
	v.SetDefault("scheduler.sweep_schedule", "*/30 * * * * *")
	v.SetDefault("scheduler.tally_sync_schedule", "*/15 * * * * *")

	// Security defaults
	v.SetDefault("security.admin_secret", "")
	v.SetDefault("security.token_expiry", "24h")
	v.SetDefault("security.vote_rate_limit", 5.0)
	v.SetDefault("security.vote_rate_burst", 10)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate Server configuration
	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	// Validate Ledger configuration
	if err := c.validateLedger(); err != nil {
		return fmt.Errorf("ledger config: %w", err)
	}

	// Validate Database configuration
	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	// Validate Scheduler configuration
	if err := c.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	// Validate Security configuration
	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security config: %w", err)
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("mode must be debug, release or test, got %q", c.Server.Mode)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLedger() error {
	if c.Ledger.RPCURL != "" {
		u, err := url.Parse(c.Ledger.RPCURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid rpc_url: %q", c.Ledger.RPCURL)
		}
	}
	if c.Ledger.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}
	if c.Ledger.TxTimeout <= 0 {
		return fmt.Errorf("tx_timeout must be positive")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.URL == "" {
		return nil
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be positive")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot exceed max_conns (%d)",
			c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.AdminSecret != "" && len(c.Security.AdminSecret) < 16 {
		return fmt.Errorf("admin_secret must be at least 16 characters")
	}
	if c.Security.TokenExpiry <= 0 {
		return fmt.Errorf("token_expiry must be positive")
	}
	if c.Security.VoteRateLimit < 0 {
		return fmt.Errorf("vote_rate_limit cannot be negative")
	}
	if c.Security.VoteRateLimit > 0 && c.Security.VoteRateBurst <= 0 {
		return fmt.Errorf("vote_rate_burst must be positive when rate limiting is enabled")
	}
	return nil
}

// GetLogLevel returns a zap log level based on the configured string
func (c *Config) GetLogLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
