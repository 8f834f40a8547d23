// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// NewSession is the sentinel id of a conversation that has not been stored.
const NewSession = "new"

// SessionIDLayout is the time layout of persisted session ids.
const SessionIDLayout = "20060102150405"

// legacySessionIDLayout is accepted when parsing ids written by older
// deployments that separated date and time with an underscore.
const legacySessionIDLayout = "20060102_150405"

// NewSessionID returns the session id for a conversation started at t.
func NewSessionID(t time.Time) string {
	return t.Format(SessionIDLayout)
}

// ParseSessionID parses id as a session timestamp. ok is false for the
// sentinel and for any id in neither known layout.
func ParseSessionID(id string) (ts time.Time, ok bool) {
	for _, layout := range []string{SessionIDLayout, legacySessionIDLayout} {
		if len(id) != len(layout) {
			continue
		}
		if t, err := time.ParseInLocation(layout, id, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsNewSession reports whether id is the unsaved-session sentinel.
func IsNewSession(id string) bool {
	return id == NewSession
}
