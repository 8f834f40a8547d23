// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"time"

	"github.com/jeranaias/stembot/internal/model"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// Message is one chat turn as Ollama expects it. Thinking text and timings
// stay in the transcript and are never sent back to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// ChatResponse is the non-streaming reply of /api/chat. Only the message
// and the token counts are used; the counts feed usage tracking.
type ChatResponse struct {
	Model           string    `json:"model"`
	CreatedAt       time.Time `json:"created_at"`
	Message         Message   `json:"message"`
	Done            bool      `json:"done"`
	PromptEvalCount int       `json:"prompt_eval_count,omitempty"`
	EvalCount       int       `json:"eval_count,omitempty"`
}

// ModelInfo is one entry of GET /api/tags.
type ModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// errorBody is the {"error": "..."} document Ollama sends with a failure status.
type errorBody struct {
	Error string `json:"error"`
}

// =============================================================================
// CONVERSION
// =============================================================================

// userTurn builds the wire form of a prompt.
func userTurn(prompt string) Message {
	return Message{Role: string(model.RoleUser), Content: prompt}
}

// buildMessages converts a transcript into the request history. The prompt
// is appended unless the transcript already ends with that exact user turn,
// which happens when a failed request is retried.
func buildMessages(history []model.Message, prompt string) []Message {
	messages := make([]Message, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, Message{Role: string(m.Role), Content: m.Content})
	}
	if !model.EndsWithUserTurn(history, prompt) {
		messages = append(messages, userTurn(prompt))
	}
	return messages
}
