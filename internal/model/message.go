// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"

	"github.com/jeranaias/stembot/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the roles a transcript may contain.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DisplayName returns the capitalised role ("User", "Assistant").
// Unknown roles are capitalised as-is so legacy documents still render.
func (r Role) DisplayName() string {
	if r == "" {
		return "Unknown"
	}
	return util.Capitalize(string(r))
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one turn of a conversation. Messages are never mutated once
// appended to a transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Assistant-only fields
	ThinkingProcess string  `json:"thinking_process,omitempty"`
	TimeTaken       float64 `json:"time_taken,omitempty"` // seconds
}

// NewUserMessage creates a user turn.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant turn with its reasoning text and
// the wall-clock seconds the model took.
func NewAssistantMessage(content, thinking string, seconds float64) Message {
	return Message{
		Role:            RoleAssistant,
		Content:         content,
		ThinkingProcess: thinking,
		TimeTaken:       seconds,
	}
}

// HasThinking reports whether an assistant message carries reasoning text.
func (m Message) HasThinking() bool {
	return m.Role == RoleAssistant && strings.TrimSpace(m.ThinkingProcess) != ""
}

// CloneMessages returns a copy of msgs that shares no backing array.
// A nil input yields an empty, non-nil slice so it encodes as "[]".
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// EndsWithUserTurn reports whether the last message is a user turn with
// exactly the given content.
func EndsWithUserTurn(msgs []Message, content string) bool {
	if len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	return last.Role == RoleUser && last.Content == content
}
