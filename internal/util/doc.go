// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the stembot packages.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//   - Capitalize: upper-cases the first rune, lower-cases the rest
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//   - SanitizeFilename: NFC-normalised, separator-free file names
//   - ValidPathElement: rejects names that could escape a directory
//
// # Usage
//
//	// Write a session document without risking a torn file
//	err := util.AtomicWriteFile(path, data, 0644)
//
//	// Build an export file name from user-controlled parts
//	name := util.SanitizeFilename(prefix + "_" + owner + ".pdf")
package util
