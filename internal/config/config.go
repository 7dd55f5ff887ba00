// Package config loads runtime configuration: defaults, then an optional
// YAML file, then MV_-prefixed environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Ledger keys stay strings
// here; parsing them into public keys happens at wire-up so a bad key fails
// with its config name attached.
type Config struct {
	// Ledger endpoints
	RPCURL string `yaml:"rpc_url"`
	WSURL  string `yaml:"ws_url"`

	// Program and market identity
	ProgramID string `yaml:"program_id"`
	MarketKey string `yaml:"market_key"`

	// Signing key for submitted instructions
	KeypairPath string `yaml:"keypair_path"`

	// Projection tuning
	PollInterval    time.Duration `yaml:"poll_interval"`
	DepthLevels     int           `yaml:"depth_levels"`
	InterestDivisor int64         `yaml:"interest_divisor"`

	// Serving
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Optional side channels; empty disables
	NATSURL     string `yaml:"nats_url"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

func Default() Config {
	return Config{
		RPCURL:          "http://localhost:8899",
		WSURL:           "ws://localhost:8900",
		PollInterval:    5 * time.Second,
		DepthLevels:     16,
		InterestDivisor: 60 * 60 * 100,
		HTTPAddr:        ":8080",
		MetricsAddr:     ":9091",
	}
}

// Load builds the effective configuration. path may be empty; a missing
// file at an explicitly given path is an error, env overrides apply either
// way.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envStr("MV_RPC_URL", &cfg.RPCURL)
	envStr("MV_WS_URL", &cfg.WSURL)
	envStr("MV_PROGRAM_ID", &cfg.ProgramID)
	envStr("MV_MARKET_KEY", &cfg.MarketKey)
	envStr("MV_KEYPAIR_PATH", &cfg.KeypairPath)
	envDuration("MV_POLL_INTERVAL", &cfg.PollInterval)
	envInt("MV_DEPTH_LEVELS", &cfg.DepthLevels)
	envInt64("MV_INTEREST_DIVISOR", &cfg.InterestDivisor)
	envStr("MV_HTTP_ADDR", &cfg.HTTPAddr)
	envStr("MV_METRICS_ADDR", &cfg.MetricsAddr)
	envStr("MV_NATS_URL", &cfg.NATSURL)
	envStr("MV_POSTGRES_DSN", &cfg.PostgresDSN)
}

// Validate rejects configurations the process cannot start with.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.ProgramID == "" {
		return fmt.Errorf("program_id is required")
	}
	if c.MarketKey == "" {
		return fmt.Errorf("market_key is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.DepthLevels <= 0 {
		return fmt.Errorf("depth_levels must be positive, got %d", c.DepthLevels)
	}
	if c.InterestDivisor <= 0 {
		return fmt.Errorf("interest_divisor must be positive, got %d", c.InterestDivisor)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
