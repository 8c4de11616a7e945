// Command agent runs the background sync daemon described in spec.md:
// it unlocks the local keystore, opens the local state store, and
// supervises the watcher/scanner/coordinator loops via sync.Engine
// until told to stop. Grounded on cmd/server/main.go's (now removed)
// signal-handling shutdown shape and the teacher CLI's term.ReadPassword
// password prompt (internal/client/cli/utils.go's GetPassword).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/dmitrijs2005/syncagent/internal/client/config"
	"github.com/dmitrijs2005/syncagent/internal/client/keystore"
	"github.com/dmitrijs2005/syncagent/internal/client/sync"
	"github.com/dmitrijs2005/syncagent/internal/client/sync/remoteapi"
	"github.com/dmitrijs2005/syncagent/internal/client/sync/state"
	"github.com/dmitrijs2005/syncagent/internal/common"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := os.MkdirAll(cfg.SyncFolder, 0o700); err != nil {
		logger.Error("failed to create sync folder", "error", err)
		os.Exit(1)
	}
	stateDir := filepath.Join(cfg.SyncFolder, ".syncagent")
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		logger.Error("failed to create state dir", "error", err)
		os.Exit(1)
	}

	key, err := unlockKeystore(ctx, filepath.Join(stateDir, "keystore.json"))
	if err != nil {
		logger.Error("failed to unlock keystore", "error", err)
		os.Exit(1)
	}
	defer common.WipeByteArray(key)

	store, err := state.Open(ctx, filepath.Join(stateDir, "state.db"), logger)
	if err != nil {
		logger.Error("failed to open local state store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	client := remoteapi.NewClient(cfg.ServerURL, nil, func() string { return cfg.AuthToken })

	engine, err := sync.NewEngine(sync.EngineConfig{
		SyncFolder:     cfg.SyncFolder,
		ServerURL:      cfg.ServerURL,
		AuthToken:      func() string { return cfg.AuthToken },
		MachineName:    cfg.MachineName,
		WorkerCount:    cfg.WorkerCount,
		MaxRetries:     cfg.MaxRetries,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		ScanInterval:   cfg.ScanInterval,
		Watcher:        sync.WatcherConfig{DebounceDelay: cfg.DebounceDelay, SettleDelay: cfg.SettleDelay},
		IgnorePatterns: cfg.IgnorePatterns,
		ChunkMin:       cfg.CDCMinSize,
		ChunkAvg:       cfg.CDCAvgSize,
		ChunkMax:       cfg.CDCMaxSize,
	}, key, store, client, logger)
	if err != nil {
		logger.Error("failed to build sync engine", "error", err)
		os.Exit(1)
	}

	// Engine.Start blocks for the engine's lifetime (it ends by waiting
	// on the server push subscription), so it runs on its own goroutine
	// and ctx.Done is what actually drives shutdown here.
	startErr := make(chan error, 1)
	go func() { startErr <- engine.Start(ctx) }()

	select {
	case err := <-startErr:
		if err != nil {
			logger.Error("engine failed to start", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	<-ctx.Done()
	logger.Info("shutting down sync agent")
	engine.Shutdown()
}

// unlockKeystore prompts for the master password and unlocks the local
// keystore, initializing a fresh one on first run.
func unlockKeystore(ctx context.Context, path string) ([]byte, error) {
	fmt.Println("Master password:")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	ks := keystore.NewFileKeystore(path)
	key, err := ks.Unlock(ctx, password)
	if errors.Is(err, keystore.ErrNotInitialized) {
		if err := keystore.Init(path, password); err != nil {
			return nil, fmt.Errorf("initializing keystore: %w", err)
		}
		return ks.Unlock(ctx, password)
	}
	return key, err
}
