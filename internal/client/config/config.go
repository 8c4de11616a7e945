package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds every tunable named in spec.md §6.4's "environment-style
// configuration" list, resolved from defaults, then an optional JSON
// file, then command-line flags — the same three-stage precedence the
// teacher CLI used for its own (much smaller) Config.
type Config struct {
	SyncFolder  string
	ServerURL   string
	AuthToken   string
	MachineName string

	CDCMinSize int
	CDCAvgSize int
	CDCMaxSize int

	WorkerCount   int
	MaxRetries    int
	RetryMaxDelay time.Duration

	ScanInterval  time.Duration
	DebounceDelay time.Duration
	SettleDelay   time.Duration

	IgnorePatterns []string
}

// LoadDefaults populates c with the defaults named in spec.md §6.4.
func (c *Config) LoadDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	c.SyncFolder = filepath.Join(home, "SyncAgent")
	c.ServerURL = "http://127.0.0.1:8080"
	c.AuthToken = ""
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		c.MachineName = hostname
	} else {
		c.MachineName = "agent"
	}

	c.CDCMinSize = 1 * 1024 * 1024
	c.CDCAvgSize = 4 * 1024 * 1024
	c.CDCMaxSize = 8 * 1024 * 1024

	c.WorkerCount = 4
	c.MaxRetries = 5
	c.RetryMaxDelay = 60 * time.Second

	c.ScanInterval = 300 * time.Second
	c.DebounceDelay = 250 * time.Millisecond
	c.SettleDelay = 3000 * time.Millisecond

	c.IgnorePatterns = nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
