package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bnema/tikrec/config"
	"github.com/bnema/tikrec/internal/adapter/capture/ffmpeg"
	HTTPAdapter "github.com/bnema/tikrec/internal/adapter/http"
	"github.com/bnema/tikrec/internal/adapter/storage/jsonfile"
	"github.com/bnema/tikrec/internal/adapter/storage/localfs"
	sqlitestore "github.com/bnema/tikrec/internal/adapter/storage/sqlite"
	"github.com/bnema/tikrec/internal/infrastructure/logger"
	"github.com/bnema/tikrec/internal/port"
	"github.com/bnema/tikrec/internal/service"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-token" {
		os.Exit(hashToken(os.Args[2:]))
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn.Printf("failed to read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}
	logger.Setup(os.Stdout, cfg.Debug)

	if err := run(cfg); err != nil {
		logger.Error.Printf("%v", err)
		os.Exit(1)
	}
}

// hashToken prints the bcrypt hash to put in API_TOKEN_HASH.
func hashToken(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: tikrec hash-token <token>")
		return 2
	}
	hash, err := service.HashToken(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash-token: %v\n", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}

func openCheckpoint(cfg *config.Config) (port.JobCheckpoint, error) {
	switch cfg.Checkpoint {
	case config.CheckpointSQLite:
		store, err := sqlitestore.NewStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.CheckpointJSON:
		store, err := jsonfile.NewStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

func run(cfg *config.Config) error {
	logger.Info.Printf("starting tikrec %s on port %d", version, cfg.Port)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	settings, err := config.LoadSettings(cfg.SettingsFile, config.DefaultSettings(cfg))
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := os.MkdirAll(settings.DownloadPath, 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	settingsStore := config.NewSettingsStore(cfg.SettingsFile, settings)

	auth, err := service.NewTokenAuth(cfg.APITokenHash)
	if err != nil {
		return err
	}
	if !auth.Enabled() {
		logger.Warn.Printf("API_TOKEN_HASH is empty, the API is unauthenticated")
	}

	checkpoint, err := openCheckpoint(cfg)
	if err != nil {
		return fmt.Errorf("open %s checkpoint: %w", cfg.Checkpoint, err)
	}
	if checkpoint != nil {
		defer func() { _ = checkpoint.Close() }()
	}

	recorder := ffmpeg.NewRecorder(cfg.YtdlpPath, cfg.FFmpegPath)
	artifacts := localfs.NewStore(settings.DownloadPath)
	eventBus := service.NewEventBus(cfg.EventBuffer)

	engine, err := service.NewEngine(settings.EngineConfig(), recorder, artifacts, checkpoint, eventBus)
	if err != nil {
		return err
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = engine.Restore(startupCtx)
	startupCancel()
	if err != nil {
		return err
	}

	flushCtx, flushCancel := context.WithCancel(context.Background())
	defer flushCancel()

	// Periodic checkpoint of the job table
	if checkpoint != nil {
		go func() {
			ticker := time.NewTicker(cfg.CheckpointInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := engine.Flush(flushCtx); err != nil {
						logger.Error.Printf("checkpoint failed: %v", err)
					}
				case <-flushCtx.Done():
					return
				}
			}
		}()
	}

	server := HTTPAdapter.NewServer(engine, settingsStore, artifacts, auth, version, cfg.BehindProxy)
	defer server.Close()

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: event streams and downloads stay open.
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info.Printf("server listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info.Printf("received %s, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Event streams never finish on their own.
	httpServer.RegisterOnShutdown(eventBus.CloseAll)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("http shutdown error: %v", err)
	}

	flushCancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("engine shutdown error: %v", err)
	}

	logger.Info.Printf("shutdown complete")
	return nil
}
