// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat transcripts, one document per user and
// session.
//
// # Key Types
//
//   - Store: the session store contract shared by all backends
//   - FileStore: one indented JSON array per session under <root>/<owner>/
//   - SQLiteStore: the same contract over a SQLite database
//   - PersistenceError: I/O or decode failure tagged with owner and session
//
// # Usage
//
//	store, err := storage.NewFileStore("chat_sessions")
//	err = store.Save("alice", "20250314093015", messages)
//	msgs, err := store.Load("alice", "20250314093015")
//
// List sessions newest first:
//
//	ids, err := store.ListIDs("alice")
//
// # Storage Location
//
// The file backend writes <root>/<owner>/<session_id>.json. A missing
// document is not an error: Load returns an empty transcript.
package storage
