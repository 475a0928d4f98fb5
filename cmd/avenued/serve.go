// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

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

	"github.com/spf13/cobra"

	"github.com/avenueworks/avenue/internal/api"
	"github.com/avenueworks/avenue/internal/config"
	"github.com/avenueworks/avenue/internal/connector"
	"github.com/avenueworks/avenue/internal/dispatch"
	avlog "github.com/avenueworks/avenue/internal/log"
	"github.com/avenueworks/avenue/internal/ratelimit"
	"github.com/avenueworks/avenue/internal/store"
)

var serveListenAddr string

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the execution engine API",
		Long: `Start the HTTP API that accepts action dispatches and approval
decisions.

Requires AVENUE_MASTER_KEY (credential encryption) and
AVENUE_JWT_SECRET (API authentication) in the environment.`,
		Example: `  # Start with defaults
  avenued serve

  # Start with a config file and explicit listen address
  avenued serve --config /etc/avenue/avenue.yaml --listen :9090`,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&serveListenAddr, "listen", "", "Listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if serveListenAddr != "" {
		cfg.Server.ListenAddr = serveListenAddr
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("AVENUE_JWT_SECRET must be set")
	}

	logger := avlog.New(&avlog.Config{
		Level:  cfg.Log.Level,
		Format: avlog.Format(cfg.Log.Format),
		Output: os.Stderr,
	})
	logger.Info("avenued starting", "version", version)

	encryptor, err := store.NewAESEncryptorFromEnv()
	if err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	st, err := store.NewSQLiteStorage(store.SQLiteConfig{
		Path:      cfg.Database.Path,
		Encryptor: encryptor,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer st.Close()

	registry := connector.NewRegistry()
	if err := registry.LoadDefinitions(cfg.Connectors); err != nil {
		return fmt.Errorf("failed to load connector catalog: %w", err)
	}
	logger.Info("connector catalog loaded", "providers", registry.List())

	quota := ratelimit.NewHourlyQuota(st, logger)
	dispatcher := dispatch.NewDispatcher(st, registry, quota, logger)
	burst := ratelimit.NewSlidingWindow(cfg.Limiter.BurstLimit, cfg.Limiter.BurstWindow)

	router := api.NewRouter(dispatcher, burst, api.RouterConfig{
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		Version:   version,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := dispatch.NewSweeper(st, logger, cfg.Sweep.Interval)
	go sweeper.Run(ctx)
	go runLimiterCleanup(ctx, burst, cfg.Limiter.BurstWindow)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

// runLimiterCleanup periodically drops elapsed limiter windows so memory
// stays bounded over long uptimes.
func runLimiterCleanup(ctx context.Context, burst *ratelimit.SlidingWindow, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			burst.Cleanup()
		}
	}
}
