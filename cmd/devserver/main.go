// Command devserver runs the reference metadata/blob server described
// in SPEC_FULL.md §6.3 against Postgres and an S3-compatible object
// store — adapted from cmd/server/main.go and server/app.go's
// signal-handling shutdown shape, swapped from a gRPC vault service to
// an HTTP file-sync server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/syncagent/internal/devserver"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := devserver.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	db, err := devserver.OpenPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	blobs, err := devserver.NewS3BlobStore(ctx, cfg.S3Region, cfg.S3BaseEndpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket)
	if err != nil {
		logger.Error("failed to init blob store", "error", err)
		os.Exit(1)
	}

	files := devserver.NewPostgresFileStore(db)
	users := devserver.NewPostgresUserStore(db)
	refreshTokens := devserver.NewPostgresRefreshTokenStore(db)
	tokens := devserver.NewTokenService(cfg.JWTSecret, cfg.AccessTokenValidity, cfg.RefreshTokenValidity, refreshTokens)

	srv := devserver.NewServer(files, blobs, tokens, users, logger)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("devserver listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down devserver")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
