// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import "strings"

// Delimiters reasoning models wrap their internal monologue in.
const (
	ThinkStart = "<think>"
	ThinkEnd   = "</think>"
)

// SplitThinking separates a delimited reasoning block from the visible
// reply. When both delimiters are present and the start precedes the end,
// the text between them is returned as thinking and the reply is the text
// before the start joined with the text after the end. Otherwise thinking
// is empty and the reply is raw. Both results are trimmed.
func SplitThinking(raw string) (reply, thinking string) {
	start := strings.Index(raw, ThinkStart)
	end := strings.Index(raw, ThinkEnd)
	if start == -1 || end == -1 || start >= end {
		return strings.TrimSpace(raw), ""
	}

	thinking = raw[start+len(ThinkStart) : end]
	reply = raw[:start] + raw[end+len(ThinkEnd):]
	return strings.TrimSpace(reply), strings.TrimSpace(thinking)
}
