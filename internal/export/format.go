// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"

	"github.com/jeranaias/stembot/internal/model"
)

// =============================================================================
// FORMATS
// =============================================================================

// Format identifies an export target.
type Format string

const (
	FormatText       Format = "txt"
	FormatWord       Format = "docx"
	FormatPDF        Format = "pdf"
	FormatExcel      Format = "xlsx"
	FormatPowerPoint Format = "pptx"
)

// Formats lists every supported format in display order.
var Formats = []Format{FormatText, FormatWord, FormatPDF, FormatExcel, FormatPowerPoint}

// ParseFormat accepts a format name or a common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "txt", "text":
		return FormatText, nil
	case "docx", "word":
		return FormatWord, nil
	case "pdf":
		return FormatPDF, nil
	case "xlsx", "excel":
		return FormatExcel, nil
	case "pptx", "powerpoint", "slides":
		return FormatPowerPoint, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// FileExtension returns the extension including the dot.
func (f Format) FileExtension() string {
	return "." + string(f)
}

// MimeType returns the MIME type served for downloads.
func (f Format) MimeType() string {
	switch f {
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatWord:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FormatPDF:
		return "application/pdf"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPowerPoint:
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	default:
		return "application/octet-stream"
	}
}

// =============================================================================
// TEXT FORMATTING
// =============================================================================

// ThinkingLabel introduces an assistant's reasoning in text exports.
const ThinkingLabel = "[AI Thinking Process]"

// FormatConversationText renders the selected turns as "Role: content"
// lines separated by blank lines. An assistant turn with reasoning is
// followed by an indented thinking block.
func FormatConversationText(messages []model.Message, includeUser, includeAssistant bool) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		if !included(msg.Role, includeUser, includeAssistant) {
			continue
		}
		lines = append(lines, msg.Role.DisplayName()+": "+strings.TrimSpace(msg.Content))
		if msg.Role == model.RoleAssistant && msg.ThinkingProcess != "" {
			lines = append(lines, "  "+ThinkingLabel+":\n  "+strings.TrimSpace(msg.ThinkingProcess)+"\n")
		}
	}
	return strings.Join(lines, "\n\n")
}

// FilterMessages returns the messages whose role is selected.
func FilterMessages(messages []model.Message, includeUser, includeAssistant bool) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, msg := range messages {
		if included(msg.Role, includeUser, includeAssistant) {
			out = append(out, msg)
		}
	}
	return out
}

func included(role model.Role, includeUser, includeAssistant bool) bool {
	return (role == model.RoleUser && includeUser) || (role == model.RoleAssistant && includeAssistant)
}
