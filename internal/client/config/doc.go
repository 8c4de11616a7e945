// Package config loads runtime configuration for the sync agent.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-folder string    sync folder path
//	-server string    server base URL
//	-token string     bearer auth token
//	-machine string   machine name used for conflict filenames
//	-workers int      worker pool size
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be
// either strings like "250ms" or integer nanoseconds:
//
//	{
//	  "sync_folder": "/home/user/SyncAgent",
//	  "server_url": "https://sync.example.com",
//	  "auth_token": "...",
//	  "machine_name": "laptop",
//	  "cdc": {"min": 1048576, "avg": 4194304, "max": 8388608},
//	  "worker_count": 4,
//	  "max_retries": 5,
//	  "retry_max_delay": "60s",
//	  "scan_interval": "300s",
//	  "debounce_ms": "250ms",
//	  "settle_ms": "3s",
//	  "ignore_patterns": ["*.tmp"]
//	}
//
// Primary API
//
//   - type Config                     — every field named in spec.md §6.4
//   - func LoadConfig() *Config       — builds Config by applying defaults, JSON, then flags
//   - func (*Config) LoadDefaults()   — sets the defaults named in spec.md §6.4
//
// Note: This package does not read environment variables directly; use
// the JSON file or flags to configure values.
package config
