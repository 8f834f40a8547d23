// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - collaborators built from the configuration.

package cli

import (
	"fmt"
	"log/slog"

	"github.com/jeranaias/stembot/internal/config"
	"github.com/jeranaias/stembot/internal/export"
	"github.com/jeranaias/stembot/internal/ollama"
	"github.com/jeranaias/stembot/internal/security/auth"
	"github.com/jeranaias/stembot/internal/storage"
	"github.com/jeranaias/stembot/internal/telemetry"
)

// loadConfig loads .env and the configuration file selected by --config
// or STEMBOT_CONFIG.
func loadConfig(args Args) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.Path(args.ConfigPath))
	if err != nil {
		return nil, err
	}
	if args.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openStore opens the configured session backend. The returned func
// releases it.
func openStore(cfg *config.Config) (storage.Store, func() error, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		s, err := storage.OpenSQLiteStore(cfg.SQLitePath())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendFile, "":
		s, err := storage.NewFileStore(cfg.HistoryDir())
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func newClient(cfg *config.Config) *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Ollama.BaseURL,
		DefaultModel: cfg.Ollama.DefaultModel,
		Timeout:      cfg.RequestTimeout(),
	})
}

// newGateway builds the model gateway over the configured Ollama server.
func newGateway(cfg *config.Config, logger *slog.Logger) *ollama.Gateway {
	return ollama.NewGateway(newClient(cfg),
		ollama.WithCatalogTTL(cfg.CatalogTTL()),
		ollama.WithLogger(logger),
	)
}

func brandingFor(cfg *config.Config, logger *slog.Logger) export.Config {
	return export.Config{
		LogoPath:  cfg.LogoPath(),
		FontDir:   cfg.FontDir(),
		Watermark: cfg.Export.WatermarkText,
		Logger:    logger,
	}
}

// newRenderer builds the export renderer with the configured branding.
func newRenderer(cfg *config.Config, logger *slog.Logger) *export.Renderer {
	return export.NewRenderer(brandingFor(cfg, logger))
}

// openUsers opens the credential file.
func openUsers(cfg *config.Config, logger *slog.Logger) (*auth.Store, error) {
	return auth.Open(cfg.UsersFile(), auth.WithLogger(logger))
}

// openUsage opens the usage tracker directory.
func openUsage(cfg *config.Config) (*telemetry.UsageTracker, error) {
	return telemetry.NewUsageTracker(cfg.UsageDir())
}
