package config

import (
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "Test1 OK",
			args: []string{"cmd", "-folder", "/data/sync", "-server", "https://sync.example.com", "-workers", "10"},
			expected: &Config{
				SyncFolder: "/data/sync", ServerURL: "https://sync.example.com", WorkerCount: 10,
			},
		},
		{
			name:        "Test2 incorrect worker count",
			args:        []string{"cmd", "-workers", "abc"},
			expectPanic: true,
			expected:    &Config{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)

			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Equal(t, tt.expected.SyncFolder, config.SyncFolder)
				assert.Equal(t, tt.expected.ServerURL, config.ServerURL)
				assert.Equal(t, tt.expected.WorkerCount, config.WorkerCount)
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
