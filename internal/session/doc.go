// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds per-connection chat state and the controller that
// drives a conversation through the model gateway, the session store and
// the export renderer.
//
// # Key Types
//
//   - Context: the validated state of one browser connection
//   - Event: a user action; Transition(ctx, event) returns the next Context
//   - Controller: runs one Context against its collaborators, allowing a
//     single outstanding model request at a time
//   - Manager: connection tokens mapped to Controllers with idle expiry
//
// # Usage
//
//	mgr := session.NewManager(deps, 30*time.Minute)
//	token, ctrl := mgr.Create()
//	ctrl.Login(ctx, "alice")
//	res, err := ctrl.Send(ctx, "2+2?")
//
// # Persistence
//
// A conversation is saved after every assistant reply. Its id is the
// connection's filename prefix, assigned when the first reply arrives, and
// stays fixed afterwards.
package session
