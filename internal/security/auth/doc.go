// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth manages user accounts for the chat front end.
//
// Accounts live in one JSON file keyed by username:
//
//	{"alice": {"password": "<bcrypt>", "created_at": "2024-01-01T12:00:00Z"}}
//
// An optional "totp_secret" enables a second factor for that user.
//
// # Registration
//
//	store, err := auth.Open("user_data/users.json")
//	err = store.Register("alice", "pw", "pw")
//	switch {
//	case errors.Is(err, auth.ErrEmptyFields):
//	case errors.Is(err, auth.ErrPasswordMismatch):
//	case errors.Is(err, auth.ErrUserExists):
//	}
//
// # Login
//
// Authenticate checks the password and, when enrolled, the TOTP code.
// Failed attempts are throttled per username by a token-bucket Limiter;
// a throttled attempt returns ErrTooManyAttempts without checking the
// password.
package auth
