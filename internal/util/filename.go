// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxFilenameRunes keeps generated names well under common filesystem limits.
const maxFilenameRunes = 200

// SanitizeFilename returns a name that is safe to join onto a directory.
// The input is NFC-normalised so visually identical names map to one file;
// path separators, control characters and characters Windows rejects are
// replaced with '_'.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))

	var sb strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			sb.WriteRune('_')
		case strings.ContainsRune(`/\:*?"<>|`, r):
			sb.WriteRune('_')
		default:
			sb.WriteRune(r)
		}
	}

	out := strings.Trim(sb.String(), ". ")
	if out == "" {
		return "unnamed"
	}
	runes := []rune(out)
	if len(runes) > maxFilenameRunes {
		out = string(runes[:maxFilenameRunes])
	}
	return out
}

// ValidPathElement reports whether name can be used as exactly one path
// element: non-empty, not "." or "..", and free of separators and NUL.
func ValidPathElement(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}
