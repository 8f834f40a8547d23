// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"sort"
	"strings"

	"github.com/jeranaias/stembot/internal/model"
	"github.com/jeranaias/stembot/internal/util"
)

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store reads and writes whole transcripts keyed by (owner, session id).
// Implementations never expose one owner's sessions to another.
type Store interface {
	// Save overwrites the document for (owner, sessionID).
	Save(owner, sessionID string, messages []model.Message) error

	// Load returns the stored transcript. A missing document yields an empty
	// slice and a nil error; malformed content yields an empty slice and a
	// *PersistenceError.
	Load(owner, sessionID string) ([]model.Message, error)

	// ListIDs returns the owner's session ids, newest first. Ids that do not
	// parse as timestamps follow in enumeration order.
	ListIDs(owner string) ([]string, error)

	// Delete removes one document and reports whether it existed.
	Delete(owner, sessionID string) (bool, error)

	// DeleteAll removes every document of the owner. Individual failures are
	// collected in the result rather than aborting the sweep.
	DeleteAll(owner string) (DeleteAllResult, error)
}

// DeleteAllResult reports the outcome of Store.DeleteAll.
type DeleteAllResult struct {
	Deleted  int
	Failures []error
}

// OK reports whether every document was removed.
func (r DeleteAllResult) OK() bool {
	return len(r.Failures) == 0
}

// =============================================================================
// ERRORS
// =============================================================================

// PersistenceError is returned when a session document cannot be read,
// decoded, written or removed.
type PersistenceError struct {
	Op        string // "save", "load", "list", "delete"
	Owner     string
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	sb.WriteString(" session")
	if e.SessionID != "" {
		sb.WriteString(" '" + e.SessionID + "'")
	}
	if e.Owner != "" {
		sb.WriteString(" for " + e.Owner)
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ErrInvalidKey is wrapped in a PersistenceError when an owner or session id
// is not usable as a storage key.
var ErrInvalidKey = errors.New("invalid owner or session id")

// =============================================================================
// HELPERS
// =============================================================================

// validateKey rejects keys that could escape the owner's namespace and the
// unsaved-session sentinel.
func validateKey(op, owner, sessionID string) error {
	if !util.ValidPathElement(owner) {
		return &PersistenceError{Op: op, Owner: owner, SessionID: sessionID, Err: ErrInvalidKey}
	}
	if sessionID == "" {
		return nil
	}
	if !util.ValidPathElement(sessionID) || model.IsNewSession(sessionID) {
		return &PersistenceError{Op: op, Owner: owner, SessionID: sessionID, Err: ErrInvalidKey}
	}
	return nil
}

// SortSessionIDs orders ids newest first. Ids that do not parse as
// timestamps keep their relative input order after all parseable ids.
func SortSessionIDs(ids []string) []string {
	type entry struct {
		id string
		ts int64
		ok bool
	}
	entries := make([]entry, len(ids))
	for i, id := range ids {
		t, ok := model.ParseSessionID(id)
		entries[i] = entry{id: id, ok: ok}
		if ok {
			entries[i].ts = t.Unix()
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.ok != b.ok {
			return a.ok
		}
		if !a.ok {
			return false
		}
		return a.ts > b.ts
	})

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out
}
