// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fumiama/go-docx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_Text(t *testing.T) {
	text, err := Extract("notes.TXT", []byte("  hello\nworld \n"))
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", text)

	text, err = Extract("readme.md", []byte("# Title"))
	require.NoError(t, err)
	assert.Equal(t, "# Title", text)
}

func TestExtract_DropsInvalidUTF8(t *testing.T) {
	text, err := Extract("a.txt", []byte("ok\xff\xfeyes"))
	require.NoError(t, err)
	assert.Equal(t, "okyes", text)
}

func TestExtract_Docx(t *testing.T) {
	doc := docx.New().WithDefaultTheme()
	doc.AddParagraph().AddText("first paragraph")
	doc.AddParagraph().AddText("second paragraph")
	var buf bytes.Buffer
	_, err := doc.WriteTo(&buf)
	require.NoError(t, err)

	text, err := Extract("essay.docx", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "first paragraph\nsecond paragraph", text)
}

func TestExtract_CorruptDocx(t *testing.T) {
	_, err := Extract("bad.docx", []byte("not a zip"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupported)
}

func TestExtract_Unsupported(t *testing.T) {
	for _, name := range []string{"scan.png", "paper.pdf", "noext"} {
		_, err := Extract(name, []byte("x"))
		assert.ErrorIs(t, err, ErrUnsupported, name)
	}
}

func TestExtract_TooLarge(t *testing.T) {
	_, err := Extract("big.txt", make([]byte, MaxSize+1))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a.DOCX"))
	assert.True(t, Supported("b.md"))
	assert.False(t, Supported("c.jpg"))
}

func TestDir_Save(t *testing.T) {
	d := NewDir(t.TempDir())
	d.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local) }

	path, err := d.Save("alice", "../../etc/notes.txt", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.Root, "alice", "20240506070809_notes.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestDir_SaveRejectsBadOwner(t *testing.T) {
	d := NewDir(t.TempDir())
	_, err := d.Save("../bob", "a.txt", nil)
	assert.ErrorIs(t, err, ErrInvalidOwner)
}
