// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/stembot/internal/model"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestFileStore_Contract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return newTestFileStore(t) })
}

func TestFileStore_DocumentLayout(t *testing.T) {
	store := newTestFileStore(t)
	msgs := []model.Message{
		model.NewUserMessage("hello"),
		model.NewAssistantMessage("hi", "", 1.25),
	}
	require.NoError(t, store.Save("alice", "20250101120000", msgs))

	path := filepath.Join(store.BaseDir, "alice", "20250101120000.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// One JSON array per session with the original key names
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 2)
	assert.Equal(t, "user", raw[0]["role"])
	assert.Equal(t, "hello", raw[0]["content"])
	assert.Equal(t, 1.25, raw[1]["time_taken"])
	assert.Contains(t, string(data), "\n  {")
}

func TestFileStore_LoadMalformed(t *testing.T) {
	store := newTestFileStore(t)
	dir := filepath.Join(store.BaseDir, "alice")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20250101000000.json"), []byte("{not json"), 0644))

	msgs, err := store.Load("alice", "20250101000000")
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "load", pe.Op)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestFileStore_LoadLegacyDocument(t *testing.T) {
	store := newTestFileStore(t)
	dir := filepath.Join(store.BaseDir, "alice")
	require.NoError(t, os.MkdirAll(dir, 0755))

	legacy := `[
  {"role": "user", "content": "hi"},
  {"role": "assistant", "content": "hello", "thinking_process": "", "time_taken": 2.5}
]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20240615_120000.json"), []byte(legacy), 0644))

	msgs, err := store.Load("alice", "20240615_120000")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, 2.5, msgs[1].TimeTaken)
}

func TestFileStore_ListIDs_UnparseableLast(t *testing.T) {
	store := newTestFileStore(t)
	dir := filepath.Join(store.BaseDir, "alice")
	require.NoError(t, os.MkdirAll(dir, 0755))

	for _, name := range []string{"b-notes.json", "20240101000000.json", "a-draft.json", "20250101000000.json", "readme.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("[]"), 0644))
	}
	// Subdirectories are not sessions
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.json"), 0755))

	ids, err := store.ListIDs("alice")
	require.NoError(t, err)

	// os.ReadDir enumerates by name, so the unparseable tail is a-draft, b-notes
	assert.Equal(t, []string{"20250101000000", "20240101000000", "a-draft", "b-notes"}, ids)
}

func TestFileStore_DeleteAll_PartialFailure(t *testing.T) {
	store := newTestFileStore(t)
	msgs := []model.Message{model.NewUserMessage("x")}
	for _, id := range []string{"20240101000000", "20240102000000", "20240103000000"} {
		require.NoError(t, store.Save("alice", id, msgs))
	}

	// A non-empty directory named like a document cannot be removed
	stuck := filepath.Join(store.BaseDir, "alice", "20240104000000.json")
	require.NoError(t, os.Mkdir(stuck, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stuck, "keep"), []byte("x"), 0644))

	res, err := store.DeleteAll("alice")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	require.Len(t, res.Failures, 1)
	assert.False(t, res.OK())

	var pe *PersistenceError
	require.ErrorAs(t, res.Failures[0], &pe)
	assert.Equal(t, "20240104000000", pe.SessionID)

	_, err = os.Stat(stuck)
	assert.NoError(t, err)
}

func TestFileStore_DeleteAll_MissingDirectory(t *testing.T) {
	store := newTestFileStore(t)
	res, err := store.DeleteAll("ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Deleted)
	assert.True(t, res.OK())
}
