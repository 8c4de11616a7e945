package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/syncagent/internal/flagx"
	"github.com/dmitrijs2005/syncagent/internal/timex"
)

// cdcJSON is the JSON shape of the CDC chunk-size tunables (spec.md
// §6.4's "cdc.min/avg/max").
type cdcJSON struct {
	Min int `json:"min"`
	Avg int `json:"avg"`
	Max int `json:"max"`
}

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It
// relies on timex.Duration so intervals can be specified either as
// strings like "250ms" or as integer nanoseconds. After parsing,
// values are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	SyncFolder  string  `json:"sync_folder"`
	ServerURL   string  `json:"server_url"`
	AuthToken   string  `json:"auth_token"`
	MachineName string  `json:"machine_name"`
	CDC         cdcJSON `json:"cdc"`

	WorkerCount   int            `json:"worker_count"`
	MaxRetries    int            `json:"max_retries"`
	RetryMaxDelay timex.Duration `json:"retry_max_delay"`

	ScanInterval  timex.Duration `json:"scan_interval"`
	DebounceDelay timex.Duration `json:"debounce_ms"`
	SettleDelay   timex.Duration `json:"settle_ms"`

	IgnorePatterns []string `json:"ignore_patterns"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Behavior:
//   - Reads and unmarshals the JSON into JsonConfig.
//   - Copies every field into the provided Config.
//   - Panics on read or unmarshal errors (caller should recover if desired).
//
// Intended usage is: defaults -> parseJson -> parseFlags, where later
// stages override earlier ones.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.SyncFolder = jc.SyncFolder
	cfg.ServerURL = jc.ServerURL
	cfg.AuthToken = jc.AuthToken
	cfg.MachineName = jc.MachineName

	cfg.CDCMinSize = jc.CDC.Min
	cfg.CDCAvgSize = jc.CDC.Avg
	cfg.CDCMaxSize = jc.CDC.Max

	cfg.WorkerCount = jc.WorkerCount
	cfg.MaxRetries = jc.MaxRetries
	cfg.RetryMaxDelay = time.Duration(jc.RetryMaxDelay.Duration)

	cfg.ScanInterval = time.Duration(jc.ScanInterval.Duration)
	cfg.DebounceDelay = time.Duration(jc.DebounceDelay.Duration)
	cfg.SettleDelay = time.Duration(jc.SettleDelay.Duration)

	cfg.IgnorePatterns = jc.IgnorePatterns
}
