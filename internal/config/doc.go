// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for stembot.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, validation and optional hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - OllamaConfig: inference server URL, default model, timeouts
//   - StorageConfig: data directory and session backend (file or sqlite)
//   - ExportConfig: logo, font directory and watermark for exports
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (OLLAMA_BASE_URL, DEFAULT_OLLAMA_MODEL,
//     LOGO_IKM, CHATBOT_WATERMARK_TEXT, STEMBOT_*)
//   - .env in the working directory (never overrides the real environment)
//   - stembot.toml, or the file named by STEMBOT_CONFIG
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go config.Watch(ctx, config.Path(""), func(c *config.Config) { ... })
package config
