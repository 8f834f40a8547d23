// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeranaias/stembot/internal/model"
	"github.com/jeranaias/stembot/internal/util"
)

const documentExt = ".json"

// FileStore keeps each session as an indented JSON array at
// <BaseDir>/<owner>/<session_id>.json.
//
// Writes for one owner are serialised by a per-owner mutex. Two processes
// sharing a directory are not coordinated.
type FileStore struct {
	// BaseDir is the root directory holding one subdirectory per owner.
	BaseDir string

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

// NewFileStore creates a store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{
		BaseDir: baseDir,
		owners:  make(map[string]*sync.Mutex),
	}, nil
}

var _ Store = (*FileStore)(nil)

// =============================================================================
// SAVE / LOAD
// =============================================================================

// Save writes the full transcript, replacing any previous document.
func (s *FileStore) Save(owner, sessionID string, messages []model.Message) error {
	if err := validateKey("save", owner, sessionID); err != nil {
		return err
	}
	if sessionID == "" {
		return &PersistenceError{Op: "save", Owner: owner, Err: ErrInvalidKey}
	}

	unlock := s.lockOwner(owner)
	defer unlock()

	data, err := json.MarshalIndent(model.CloneMessages(messages), "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", Owner: owner, SessionID: sessionID, Err: err}
	}

	// RELIABILITY: atomic write so a crash never leaves half a transcript
	if err := util.AtomicWriteFile(s.filePath(owner, sessionID), data, 0644); err != nil {
		return &PersistenceError{Op: "save", Owner: owner, SessionID: sessionID, Err: err}
	}

	slog.Debug("session saved",
		slog.String("owner", owner),
		slog.String("session_id", sessionID),
		slog.Int("messages", len(messages)),
	)
	return nil
}

// Load returns the stored transcript, or an empty one if none exists.
func (s *FileStore) Load(owner, sessionID string) ([]model.Message, error) {
	if err := validateKey("load", owner, sessionID); err != nil {
		return []model.Message{}, err
	}

	data, err := os.ReadFile(s.filePath(owner, sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.Message{}, nil
		}
		return []model.Message{}, &PersistenceError{Op: "load", Owner: owner, SessionID: sessionID, Err: err}
	}

	var messages []model.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return []model.Message{}, &PersistenceError{Op: "load", Owner: owner, SessionID: sessionID, Err: err}
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return messages, nil
}

// =============================================================================
// LIST
// =============================================================================

// ListIDs returns the owner's session ids, newest first.
func (s *FileStore) ListIDs(owner string) ([]string, error) {
	if err := validateKey("list", owner, ""); err != nil {
		return []string{}, err
	}

	entries, err := os.ReadDir(s.ownerDir(owner))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return []string{}, &PersistenceError{Op: "list", Owner: owner, Err: err}
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), documentExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), documentExt))
	}
	return SortSessionIDs(ids), nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes one session document. It returns false without error when
// the document does not exist.
func (s *FileStore) Delete(owner, sessionID string) (bool, error) {
	if err := validateKey("delete", owner, sessionID); err != nil {
		return false, err
	}

	unlock := s.lockOwner(owner)
	defer unlock()

	if err := os.Remove(s.filePath(owner, sessionID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &PersistenceError{Op: "delete", Owner: owner, SessionID: sessionID, Err: err}
	}
	return true, nil
}

// DeleteAll removes every *.json entry in the owner's directory. A missing
// directory counts as success with nothing deleted.
func (s *FileStore) DeleteAll(owner string) (DeleteAllResult, error) {
	var result DeleteAllResult
	if err := validateKey("delete", owner, ""); err != nil {
		return result, err
	}

	unlock := s.lockOwner(owner)
	defer unlock()

	dir := s.ownerDir(owner)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return result, nil
		}
		return result, &PersistenceError{Op: "delete", Owner: owner, Err: err}
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), documentExt) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			id := strings.TrimSuffix(entry.Name(), documentExt)
			pe := &PersistenceError{Op: "delete", Owner: owner, SessionID: id, Err: err}
			slog.Warn("failed to delete session", slog.String("error", pe.Error()))
			result.Failures = append(result.Failures, pe)
			continue
		}
		result.Deleted++
	}
	return result, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *FileStore) ownerDir(owner string) string {
	return filepath.Join(s.BaseDir, owner)
}

func (s *FileStore) filePath(owner, sessionID string) string {
	return filepath.Join(s.ownerDir(owner), sessionID+documentExt)
}

// lockOwner acquires the owner's write lock and returns its release func.
func (s *FileStore) lockOwner(owner string) func() {
	s.mu.Lock()
	if s.owners == nil {
		s.owners = make(map[string]*sync.Mutex)
	}
	m, ok := s.owners[owner]
	if !ok {
		m = &sync.Mutex{}
		s.owners[owner] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
