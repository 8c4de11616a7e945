package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/syncagent/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-folder string   sync folder path (default from Config)
//	-server string   server base URL (default from Config)
//	-token string    bearer auth token (default from Config)
//	-machine string  machine name used for conflict filenames (default from Config)
//	-workers int     worker pool size (default from Config)
//
// Note: The function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with other
// components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-folder", "-server", "-token", "-machine", "-workers"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.SyncFolder, "folder", cfg.SyncFolder, "sync folder path")
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "server base URL")
	fs.StringVar(&cfg.AuthToken, "token", cfg.AuthToken, "bearer auth token")
	fs.StringVar(&cfg.MachineName, "machine", cfg.MachineName, "machine name used for conflict filenames")
	workers := fs.Int("workers", cfg.WorkerCount, "worker pool size")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.WorkerCount = *workers
}
