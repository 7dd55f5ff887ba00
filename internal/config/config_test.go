package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"MarginView/internal/config"
)

const minimalYAML = `
program_id: BPFLoaderUpgradeab1e11111111111111111111111
market_key: 4fYNw3dojWmQ4dXtSGE9epjRGy9pFSx62YypT7avPYvA
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// ============================================================================
// Test: Load
// ============================================================================

func TestLoad_DefaultsApply(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("poll interval: got %s, want 5s", cfg.PollInterval)
	}
	if cfg.DepthLevels != 16 {
		t.Errorf("depth levels: got %d, want 16", cfg.DepthLevels)
	}
	if cfg.InterestDivisor != 360000 {
		t.Errorf("interest divisor: got %d, want 360000", cfg.InterestDivisor)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http addr: got %s", cfg.HTTPAddr)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalYAML+`
poll_interval: 2s
depth_levels: 5
`))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("poll interval: got %s, want 2s", cfg.PollInterval)
	}
	if cfg.DepthLevels != 5 {
		t.Errorf("depth levels: got %d, want 5", cfg.DepthLevels)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("MV_POLL_INTERVAL", "250ms")
	t.Setenv("MV_RPC_URL", "http://devnet:8899")

	cfg, err := config.Load(writeConfig(t, minimalYAML+"poll_interval: 9s\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval: got %s, want 250ms", cfg.PollInterval)
	}
	if cfg.RPCURL != "http://devnet:8899" {
		t.Errorf("rpc url: got %s", cfg.RPCURL)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("an explicitly named missing file must fail")
	}
}

func TestLoad_NoFileStillValidates(t *testing.T) {
	// Without a file the required identities are missing.
	if _, err := config.Load(""); err == nil {
		t.Error("empty config must fail validation")
	}
}

// ============================================================================
// Test: Validate
// ============================================================================

func TestValidate_Rejections(t *testing.T) {
	base := func() config.Config {
		cfg := config.Default()
		cfg.ProgramID = "prog"
		cfg.MarketKey = "mkt"
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing rpc url", func(c *config.Config) { c.RPCURL = "" }},
		{"missing program id", func(c *config.Config) { c.ProgramID = "" }},
		{"missing market key", func(c *config.Config) { c.MarketKey = "" }},
		{"zero poll interval", func(c *config.Config) { c.PollInterval = 0 }},
		{"negative depth", func(c *config.Config) { c.DepthLevels = -1 }},
		{"zero divisor", func(c *config.Config) { c.InterestDivisor = 0 }},
		{"missing http addr", func(c *config.Config) { c.HTTPAddr = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("want validation error, got nil")
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
