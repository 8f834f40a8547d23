// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"truncated", "hello world", 8, "hello..."},
		{"tiny max", "hello", 2, "he"},
		{"zero", "hello", 0, ""},
		{"multibyte", "héllo wörld", 6, "hél..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateRunes(tt.in, tt.max))
		})
	}
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Assistant", Capitalize("assistant"))
	assert.Equal(t, "User", Capitalize("USER"))
	assert.Equal(t, "Élan", Capitalize("élan"))
	assert.Equal(t, "", Capitalize(""))
}

// =============================================================================
// FILENAME TESTS
// =============================================================================

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "20250101120000_alice.pdf", SanitizeFilename("20250101120000_alice.pdf"))
	assert.Equal(t, "a_b_c.txt", SanitizeFilename("a/b\\c.txt"))
	assert.Equal(t, "unnamed", SanitizeFilename(" .. "))
	assert.Equal(t, "x_y", SanitizeFilename("x\ny"))

	// Decomposed e + combining acute becomes the single precomposed rune
	assert.Equal(t, "caf\u00e9", SanitizeFilename("cafe\u0301"))
}

func TestValidPathElement(t *testing.T) {
	assert.True(t, ValidPathElement("alice"))
	assert.True(t, ValidPathElement("20250101120000"))
	assert.False(t, ValidPathElement(""))
	assert.False(t, ValidPathElement(".."))
	assert.False(t, ValidPathElement("../bob"))
	assert.False(t, ValidPathElement("a\\b"))
}

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")

	require.NoError(t, AtomicWriteFile(path, []byte("one"), 0644))
	require.NoError(t, AtomicWriteFile(path, []byte("two"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	// No temp files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAtomicWriteFile_CreatesPrivateDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_data", "users.json")
	require.NoError(t, AtomicWriteFileWithDir(path, []byte("{}"), 0600, 0700))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.json")
	require.NoError(t, WriteJSON(path, map[string]int{"queries": 2}, 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"queries\": 2\n}", string(data))

	assert.Error(t, WriteJSON(path, make(chan int), 0644))
}
