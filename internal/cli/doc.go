// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the stembot command line.
//
// serve (the default) wires the configuration, logging, telemetry, session
// store, model gateway, export renderer and session manager together and
// runs the HTTP API. The remaining commands administer the same data
// offline: accounts, saved conversations, exports, the model catalog,
// usage records and the configuration file.
//
// # Conventions
//
//   - Handlers return errors; Run prints them once and maps them to an
//     exit code with GetExitCode.
//   - --json switches every command to a JSONResponse envelope on stdout.
//   - Destructive commands require --confirm or an interactive "y".
package cli
