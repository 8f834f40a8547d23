// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/stembot/internal/model"
)

func TestSortSessionIDs(t *testing.T) {
	in := []string{
		"notes",
		"20240101090000",
		"zzz",
		"20250314093015",
		"20240615_120000",
		"draft",
	}
	got := SortSessionIDs(in)
	assert.Equal(t, []string{
		"20250314093015",
		"20240615_120000",
		"20240101090000",
		"notes",
		"zzz",
		"draft",
	}, got)
}

func TestSortSessionIDs_Empty(t *testing.T) {
	assert.Empty(t, SortSessionIDs(nil))
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("disk full")
	err := &PersistenceError{Op: "save", Owner: "alice", SessionID: "20250101000000", Err: cause}

	assert.Equal(t, "save session '20250101000000' for alice: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

// storeContract runs the behaviour every Store backend must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	msgs := []model.Message{
		model.NewUserMessage("2+2?"),
		model.NewAssistantMessage("4", "compute", 0.25),
	}

	t.Run("load missing is empty", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Load("alice", "20250101000000")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("save then load round trips", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save("alice", "20250101000000", msgs))

		got, err := s.Load("alice", "20250101000000")
		require.NoError(t, err)
		assert.Equal(t, msgs, got)
	})

	t.Run("save overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save("alice", "20250101000000", msgs))
		require.NoError(t, s.Save("alice", "20250101000000", msgs[:1]))

		got, err := s.Load("alice", "20250101000000")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("owners are isolated", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save("alice", "20250101000000", msgs))

		got, err := s.Load("bob", "20250101000000")
		require.NoError(t, err)
		assert.Empty(t, got)

		ids, err := s.ListIDs("bob")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("list newest first", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"20240101000000", "20250601000000", "20241231235959"} {
			require.NoError(t, s.Save("alice", id, msgs))
		}
		ids, err := s.ListIDs("alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"20250601000000", "20241231235959", "20240101000000"}, ids)
	})

	t.Run("delete reports existence", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save("alice", "20250101000000", msgs))

		ok, err := s.Delete("alice", "20250101000000")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Delete("alice", "20250101000000")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete all", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"20240101000000", "20240102000000", "20240103000000"} {
			require.NoError(t, s.Save("alice", id, msgs))
		}
		require.NoError(t, s.Save("bob", "20240101000000", msgs))

		res, err := s.DeleteAll("alice")
		require.NoError(t, err)
		assert.Equal(t, 3, res.Deleted)
		assert.True(t, res.OK())

		ids, err := s.ListIDs("bob")
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	})

	t.Run("delete all on unknown owner", func(t *testing.T) {
		s := newStore(t)
		res, err := s.DeleteAll("nobody")
		require.NoError(t, err)
		assert.Equal(t, 0, res.Deleted)
	})

	t.Run("rejects unsafe keys", func(t *testing.T) {
		s := newStore(t)
		var pe *PersistenceError

		err := s.Save("../alice", "20250101000000", msgs)
		require.ErrorAs(t, err, &pe)
		assert.ErrorIs(t, err, ErrInvalidKey)

		err = s.Save("alice", model.NewSession, msgs)
		assert.ErrorIs(t, err, ErrInvalidKey)

		_, err = s.Load("alice", "../../etc/passwd")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}
