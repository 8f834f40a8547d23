// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("system").Valid())

	assert.Equal(t, "User", RoleUser.DisplayName())
	assert.Equal(t, "Assistant", RoleAssistant.DisplayName())
	assert.Equal(t, "Unknown", Role("").DisplayName())
}

func TestMessage_JSONKeys(t *testing.T) {
	msg := NewAssistantMessage("4", "compute", 1.5)
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"role":"assistant","content":"4","thinking_process":"compute","time_taken":1.5}`,
		string(data))

	// User turns carry no optional keys
	data, err = json.Marshal(NewUserMessage("2+2?"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"2+2?"}`, string(data))
}

func TestMessage_HasThinking(t *testing.T) {
	assert.True(t, NewAssistantMessage("a", "why", 0).HasThinking())
	assert.False(t, NewAssistantMessage("a", "  ", 0).HasThinking())
	assert.False(t, Message{Role: RoleUser, ThinkingProcess: "x"}.HasThinking())
}

func TestEndsWithUserTurn(t *testing.T) {
	history := []Message{NewUserMessage("hi"), NewAssistantMessage("hello", "", 0)}
	assert.False(t, EndsWithUserTurn(history, "hi"))

	history = append(history, NewUserMessage("again"))
	assert.True(t, EndsWithUserTurn(history, "again"))
	assert.False(t, EndsWithUserTurn(history, "again "))
	assert.False(t, EndsWithUserTurn(nil, "x"))
}

func TestCloneMessages(t *testing.T) {
	orig := []Message{NewUserMessage("a")}
	cp := CloneMessages(orig)
	cp[0].Content = "b"
	assert.Equal(t, "a", orig[0].Content)

	assert.NotNil(t, CloneMessages(nil))
}

// =============================================================================
// SESSION ID TESTS
// =============================================================================

func TestSessionID_RoundTrip(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 30, 15, 0, time.Local)
	id := NewSessionID(start)
	assert.Equal(t, "20250314093015", id)

	ts, ok := ParseSessionID(id)
	require.True(t, ok)
	assert.True(t, ts.Equal(start))
}

func TestParseSessionID(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"20250314093015", true},
		{"20250314_093015", true},
		{"new", false},
		{"notes", false},
		{"2025031409301", false},
		{"20251399093015", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, ok := ParseSessionID(tt.id)
			assert.Equal(t, tt.ok, ok)
		})
	}
	assert.True(t, IsNewSession(NewSession))
}
