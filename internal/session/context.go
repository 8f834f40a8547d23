// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/jeranaias/stembot/internal/model"
	"github.com/jeranaias/stembot/internal/util"
)

// =============================================================================
// CONTEXT
// =============================================================================

// Context is the state of one connection. It is a value: Transition returns
// a new Context and never mutates its input.
type Context struct {
	Username      string `json:"username"`
	Authenticated bool   `json:"authenticated"`

	// SessionID is model.NewSession until the first reply is saved.
	SessionID string          `json:"session_id"`
	History   []model.Message `json:"history"`

	// FilenamePrefix names exports and becomes SessionID on first save.
	FilenamePrefix string `json:"filename_prefix"`

	SelectedModel        string `json:"selected_model"`
	ShowConfirmDeleteAll bool   `json:"show_confirm_delete_all"`
	PageNum              int    `json:"page_num"`
	UploaderKey          int    `json:"uploader_key"`
}

// NewContext returns the default state for a fresh connection at time now.
func NewContext(now time.Time, available []string, defaultModel string) Context {
	return Context{
		SessionID:      model.NewSession,
		History:        []model.Message{},
		FilenamePrefix: model.NewSessionID(now),
		SelectedModel:  ChooseModel(available, defaultModel),
		PageNum:        1,
	}
}

// ChooseModel picks defaultModel when the server offers it, otherwise the
// first offered model, otherwise defaultModel.
func ChooseModel(available []string, defaultModel string) string {
	if len(available) == 0 || slices.Contains(available, defaultModel) {
		return defaultModel
	}
	return available[0]
}

// Clone returns a copy that shares no slices with c.
func (c Context) Clone() Context {
	c.History = model.CloneMessages(c.History)
	return c
}

// IsNew reports whether the conversation has not been saved yet.
func (c Context) IsNew() bool {
	return model.IsNewSession(c.SessionID)
}

// Validate checks every field against its allowed values.
func (c Context) Validate() error {
	if c.Authenticated && !util.ValidPathElement(c.Username) {
		return fmt.Errorf("%w: username %q", ErrInvalidContext, c.Username)
	}
	if !c.IsNew() && !util.ValidPathElement(c.SessionID) {
		return fmt.Errorf("%w: session id %q", ErrInvalidContext, c.SessionID)
	}
	if c.FilenamePrefix == "" {
		return fmt.Errorf("%w: empty filename prefix", ErrInvalidContext)
	}
	if c.SelectedModel == "" {
		return fmt.Errorf("%w: no model selected", ErrInvalidContext)
	}
	if c.PageNum < 1 {
		return fmt.Errorf("%w: page %d", ErrInvalidContext, c.PageNum)
	}
	if c.UploaderKey < 0 {
		return fmt.Errorf("%w: uploader key %d", ErrInvalidContext, c.UploaderKey)
	}
	for i, m := range c.History {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidContext, i, m.Role)
		}
	}
	return nil
}

// =============================================================================
// PAGINATION
// =============================================================================

// TotalPages returns how many pages of perPage messages history needs.
// An empty history has one page.
func TotalPages(n, perPage int) int {
	if perPage < 1 || n == 0 {
		return 1
	}
	return (n + perPage - 1) / perPage
}

// Paginate returns page (1-based, clamped to range) of history.
func Paginate(history []model.Message, page, perPage int) (items []model.Message, current, total int) {
	total = TotalPages(len(history), perPage)
	current = min(max(page, 1), total)
	if perPage < 1 {
		return history, 1, 1
	}
	start := (current - 1) * perPage
	end := min(start+perPage, len(history))
	return history[start:end], current, total
}
