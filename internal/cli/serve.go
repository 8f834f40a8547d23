// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - the serve command: wires every collaborator and runs the API.

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/stembot/internal/config"
	"github.com/jeranaias/stembot/internal/export"
	"github.com/jeranaias/stembot/internal/ollama"
	"github.com/jeranaias/stembot/internal/server"
	"github.com/jeranaias/stembot/internal/session"
	"github.com/jeranaias/stembot/internal/telemetry"
	"github.com/jeranaias/stembot/internal/upload"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 15 * time.Second
)

// configurable is the part of the HTTP server a reload updates.
type configurable interface {
	SetConfig(*config.Config)
}

// applyReload pushes a reloaded config into the running collaborators.
// The listen address and rate limits are read once at startup and need a
// restart.
func applyReload(cfg *config.Config, srv configurable, gateway *ollama.Gateway, renderer *export.Renderer, logger *slog.Logger) {
	srv.SetConfig(cfg)
	gateway.SetCatalogTTL(cfg.CatalogTTL())
	gateway.SetClient(newClient(cfg))
	renderer.SetBranding(brandingFor(cfg, logger))
}

// HandleServe runs the HTTP server until SIGINT or SIGTERM.
func HandleServe(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return NewCommandError("serve", "init", "cannot create data directories", err)
	}

	logger, closeLog, err := telemetry.InitLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg, Version)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return NewCommandError("serve", "init", "cannot open session store", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close session store", "error", err)
		}
	}()

	users, err := openUsers(cfg, logger)
	if err != nil {
		return NewCommandError("serve", "init", "cannot open user file", err)
	}
	usage, err := openUsage(cfg)
	if err != nil {
		return NewCommandError("serve", "init", "cannot open usage directory", err)
	}

	gateway := newGateway(cfg, logger)
	renderer := newRenderer(cfg, logger)
	manager := session.NewManager(session.Deps{
		Store:     store,
		Gateway:   gateway,
		Exporter:  renderer,
		Uploads:   upload.NewDir(cfg.UploadDir()),
		Usage:     usage,
		ExportDir: cfg.ExportDir(),
		Logger:    logger,
	}, cfg.SessionIdle())
	go manager.Run(ctx, sweepInterval)

	server.Version = Version
	srv := server.New(server.Deps{
		Config:   cfg,
		Users:    users,
		Sessions: manager,
		Gateway:  gateway,
		Usage:    usage,
		Logger:   logger,
	})

	configPath := config.Path(args.ConfigPath)
	go func() {
		err := config.Watch(ctx, configPath, func(c *config.Config) {
			applyReload(c, srv, gateway, renderer, logger)
		})
		if err != nil {
			logger.Warn("config watch stopped", "path", configPath, "error", err)
		}
	}()

	logger.Info("stembot starting",
		"version", Version,
		"addr", cfg.Server.Addr,
		"ollama", cfg.Ollama.BaseURL,
		"backend", cfg.Storage.Backend,
		"data_dir", cfg.Storage.DataDir)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return NewCommandError("serve", "listen", fmt.Sprintf("cannot serve on %s", cfg.Server.Addr), err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return err
	}
	<-errCh
	logger.Info("stembot stopped")
	return nil
}
