// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides logging, tracing and usage accounting for stembot.
//
// # Key Types
//
//   - UsageTracker: per-day, per-model query counts and token totals
//   - DailyUsage: one day's usage, persisted as usage/YYYY-MM-DD.json
//   - UsageSummary: usage aggregated over a window of days
//
// # Usage
//
// Install the process logger and OpenTelemetry providers at startup:
//
//	logger, closeLog, err := telemetry.InitLogger(cfg)
//	shutdown, err := telemetry.InitTelemetry(ctx, cfg, version)
//	defer shutdown()
//
// Record a model call:
//
//	tracker.Record(model, res.PromptTokens, res.ReplyTokens, res.Elapsed, res.Failed())
//
// # Privacy
//
// Usage tracking is local-only. Prompts and replies are never stored,
// only counts and durations.
package telemetry
