// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat transcripts.
//
// This package defines the domain types shared by the store, the model
// gateway, the export renderer and the HTTP layer.
//
// # Key Types
//
//   - Message: one turn with role, content, optional thinking text and timing
//   - Role: message role enumeration (user, assistant)
//
// # Session IDs
//
// A session is identified by the literal sentinel "new" until its first
// reply is stored, then by a timestamp of the form YYYYMMDDHHMMSS which is
// also the document's file stem and its sort key:
//
//	id := model.NewSessionID(time.Now())   // "20250314093015"
//	ts, ok := model.ParseSessionID(id)
package model
