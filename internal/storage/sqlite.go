// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/jeranaias/stembot/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	owner      TEXT NOT NULL,
	session_id TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (owner, session_id)
);
CREATE TABLE IF NOT EXISTS session_messages (
	owner            TEXT    NOT NULL,
	session_id       TEXT    NOT NULL,
	position         INTEGER NOT NULL,
	role             TEXT    NOT NULL,
	content          TEXT    NOT NULL,
	thinking_process TEXT    NOT NULL DEFAULT '',
	time_taken       REAL    NOT NULL DEFAULT 0,
	PRIMARY KEY (owner, session_id, position)
);
`

// SQLiteStore implements Store on a SQLite database. A session row marks
// existence so an empty transcript can still be listed.
type SQLiteStore struct {
	db *sqlx.DB
}

// messageRow is the scan target for session_messages.
type messageRow struct {
	Role            string  `db:"role"`
	Content         string  `db:"content"`
	ThinkingProcess string  `db:"thinking_process"`
	TimeTaken       float64 `db:"time_taken"`
}

// OpenSQLiteStore opens (or creates) the database file and its schema.
func OpenSQLiteStore(file string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite", file)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

// Save replaces the transcript inside one transaction.
func (s *SQLiteStore) Save(owner, sessionID string, messages []model.Message) error {
	if err := validateKey("save", owner, sessionID); err != nil {
		return err
	}
	if sessionID == "" {
		return &PersistenceError{Op: "save", Owner: owner, Err: ErrInvalidKey}
	}
	wrap := func(err error) error {
		return &PersistenceError{Op: "save", Owner: owner, SessionID: sessionID, Err: err}
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return wrap(err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO sessions (owner, session_id) VALUES (?, ?)", owner, sessionID,
	); err != nil {
		return wrap(err)
	}
	if _, err := tx.Exec(
		"DELETE FROM session_messages WHERE owner = ? AND session_id = ?", owner, sessionID,
	); err != nil {
		return wrap(err)
	}
	for i, m := range messages {
		if _, err := tx.Exec(
			`INSERT INTO session_messages
			 (owner, session_id, position, role, content, thinking_process, time_taken)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			owner, sessionID, i, string(m.Role), m.Content, m.ThinkingProcess, m.TimeTaken,
		); err != nil {
			return wrap(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrap(err)
	}

	slog.Debug("session saved",
		slog.String("owner", owner),
		slog.String("session_id", sessionID),
		slog.Int("messages", len(messages)),
	)
	return nil
}

// Load returns the transcript ordered by position.
func (s *SQLiteStore) Load(owner, sessionID string) ([]model.Message, error) {
	if err := validateKey("load", owner, sessionID); err != nil {
		return []model.Message{}, err
	}

	var rows []messageRow
	err := s.db.Select(&rows,
		`SELECT role, content, thinking_process, time_taken
		 FROM session_messages WHERE owner = ? AND session_id = ?
		 ORDER BY position`,
		owner, sessionID)
	if err != nil {
		return []model.Message{}, &PersistenceError{Op: "load", Owner: owner, SessionID: sessionID, Err: err}
	}

	messages := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, model.Message{
			Role:            model.Role(r.Role),
			Content:         r.Content,
			ThinkingProcess: r.ThinkingProcess,
			TimeTaken:       r.TimeTaken,
		})
	}
	return messages, nil
}

// ListIDs returns the owner's session ids, newest first; unparseable ids
// keep insertion order.
func (s *SQLiteStore) ListIDs(owner string) ([]string, error) {
	if err := validateKey("list", owner, ""); err != nil {
		return []string{}, err
	}

	var ids []string
	if err := s.db.Select(&ids,
		"SELECT session_id FROM sessions WHERE owner = ? ORDER BY rowid", owner,
	); err != nil {
		return []string{}, &PersistenceError{Op: "list", Owner: owner, Err: err}
	}
	return SortSessionIDs(ids), nil
}

// Delete removes one session and its messages.
func (s *SQLiteStore) Delete(owner, sessionID string) (bool, error) {
	if err := validateKey("delete", owner, sessionID); err != nil {
		return false, err
	}
	wrap := func(err error) error {
		return &PersistenceError{Op: "delete", Owner: owner, SessionID: sessionID, Err: err}
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return false, wrap(err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM sessions WHERE owner = ? AND session_id = ?", owner, sessionID)
	if err != nil {
		return false, wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap(err)
	}
	if _, err := tx.Exec(
		"DELETE FROM session_messages WHERE owner = ? AND session_id = ?", owner, sessionID,
	); err != nil {
		return false, wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrap(err)
	}
	return n > 0, nil
}

// DeleteAll removes every session of the owner. Sessions are deleted one by
// one so a failing row is reported without losing the rest.
func (s *SQLiteStore) DeleteAll(owner string) (DeleteAllResult, error) {
	var result DeleteAllResult
	ids, err := s.ListIDs(owner)
	if err != nil {
		return result, err
	}
	for _, id := range ids {
		ok, err := s.Delete(owner, id)
		if err != nil {
			slog.Warn("failed to delete session", slog.String("error", err.Error()))
			result.Failures = append(result.Failures, err)
			continue
		}
		if ok {
			result.Deleted++
		}
	}
	return result, nil
}
