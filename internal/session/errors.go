// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "errors"

var (
	// ErrBusy is returned while a model request is outstanding.
	ErrBusy = errors.New("a request is already in progress")

	ErrNotAuthenticated = errors.New("not logged in")
	ErrEmptyPrompt      = errors.New("message is empty")
	ErrUnknownModel     = errors.New("model is not offered by the server")
	ErrInvalidSession   = errors.New("invalid session id")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidPage      = errors.New("page out of range")
	ErrInvalidContext   = errors.New("invalid session context")
	ErrInvalidEvent     = errors.New("invalid event")

	// ErrNotArmed is returned when delete-all is confirmed without being requested.
	ErrNotArmed = errors.New("delete all sessions was not requested")

	ErrExportFailed = errors.New("export failed")
	ErrNoSession    = errors.New("unknown or expired session token")
)
