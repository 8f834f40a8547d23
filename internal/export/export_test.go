// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/stembot/internal/model"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func sampleMessages() []model.Message {
	return []model.Message{
		model.NewUserMessage("2+2?"),
		model.NewAssistantMessage("4", "compute", 1.25),
	}
}

// quietRenderer returns a renderer whose log output is captured.
func quietRenderer(t *testing.T, cfg Config) (*Renderer, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	cfg.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewRenderer(cfg), &logs
}

// writeLogo writes a small grayscale PNG and returns its path.
func writeLogo(t *testing.T) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 40, 20))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

// =============================================================================
// FORMAT TESTS
// =============================================================================

func TestFormatConversationText(t *testing.T) {
	text := FormatConversationText(sampleMessages(), true, true)
	assert.Equal(t, "User: 2+2?\n\nAssistant: 4\n\n  [AI Thinking Process]:\n  compute\n", text)
}

func TestFormatConversationText_Filters(t *testing.T) {
	msgs := sampleMessages()

	assert.Equal(t, "User: 2+2?", FormatConversationText(msgs, true, false))
	assert.Equal(t, "Assistant: 4\n\n  [AI Thinking Process]:\n  compute\n", FormatConversationText(msgs, false, true))
	assert.Empty(t, FormatConversationText(msgs, false, false))
}

func TestFormatConversationText_TrimsContent(t *testing.T) {
	msgs := []model.Message{
		model.NewUserMessage("  padded \n"),
		model.NewAssistantMessage(" answer ", "", 0),
	}
	assert.Equal(t, "User: padded\n\nAssistant: answer", FormatConversationText(msgs, true, true))
}

func TestFormatConversationText_UserThinkingIgnored(t *testing.T) {
	msgs := []model.Message{{Role: model.RoleUser, Content: "q", ThinkingProcess: "x"}}
	assert.Equal(t, "User: q", FormatConversationText(msgs, true, true))
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"txt":        FormatText,
		".docx":      FormatWord,
		"PDF":        FormatPDF,
		"excel":      FormatExcel,
		"powerpoint": FormatPowerPoint,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("html")
	assert.Error(t, err)
}

func TestFormat_ExtensionAndMime(t *testing.T) {
	for _, f := range Formats {
		assert.Equal(t, "."+string(f), f.FileExtension())
		assert.NotEqual(t, "application/octet-stream", f.MimeType(), f)
	}
}

func TestOptions_FileName(t *testing.T) {
	opts := Options{Prefix: "20240101120000", Owner: "alice"}
	assert.Equal(t, "20240101120000_alice.pdf", opts.FileName(FormatPDF))

	opts = Options{Prefix: "a/b", Owner: "c:d"}
	assert.Equal(t, "a_b_c_d.txt", opts.FileName(FormatText))
}

func TestOptions_FileNameLongOwnerKeepsExtension(t *testing.T) {
	opts := Options{Prefix: "20240101120000", Owner: strings.Repeat("é", 300)}

	for _, format := range []Format{FormatPDF, FormatWord, FormatExcel, FormatText} {
		name := opts.FileName(format)
		assert.True(t, strings.HasSuffix(name, format.FileExtension()), name)
		assert.True(t, strings.HasPrefix(name, "20240101120000_"), name)
	}
}

// =============================================================================
// TEXT EXPORT
// =============================================================================

func TestSaveText(t *testing.T) {
	r, _ := quietRenderer(t, Config{})
	path := filepath.Join(t.TempDir(), "out.txt")

	require.True(t, r.SaveText("héllo\nworld", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "héllo\nworld", string(data))
}

func TestSaveText_WriteFailure(t *testing.T) {
	r, logs := quietRenderer(t, Config{})
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	assert.False(t, r.SaveText("x", filepath.Join(blocker, "out.txt")))
	assert.Contains(t, logs.String(), "export failed")
}

// =============================================================================
// DISPATCH
// =============================================================================

func TestExport_Text(t *testing.T) {
	r, _ := quietRenderer(t, Config{})
	dir := filepath.Join(t.TempDir(), "exported_files")

	path, ok := r.Export(FormatText, sampleMessages(), Options{
		OutputDir:        dir,
		Prefix:           "20240101120000",
		Owner:            "alice",
		IncludeUser:      true,
		IncludeAssistant: true,
	})
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "20240101120000_alice.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "User: 2+2?\n\nAssistant: 4\n\n  [AI Thinking Process]:\n  compute\n", string(data))
}

func TestExport_EveryFormat(t *testing.T) {
	r, _ := quietRenderer(t, Config{})
	dir := t.TempDir()

	for _, f := range Formats {
		t.Run(string(f), func(t *testing.T) {
			path, ok := r.Export(f, sampleMessages(), Options{
				OutputDir: dir, Prefix: "p", Owner: "bob",
				IncludeUser: true, IncludeAssistant: true,
			})
			require.True(t, ok)
			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Positive(t, info.Size())
		})
	}
}

func TestExport_FilteredTableFormat(t *testing.T) {
	r, _ := quietRenderer(t, Config{})

	path, ok := r.Export(FormatExcel, sampleMessages(), Options{
		OutputDir: t.TempDir(), Prefix: "p", IncludeUser: false, IncludeAssistant: false,
	})
	assert.False(t, ok)
	assert.NoFileExists(t, path)
}

func TestExport_UnsupportedFormat(t *testing.T) {
	r, _ := quietRenderer(t, Config{})
	_, ok := r.Export(Format("html"), sampleMessages(), Options{OutputDir: t.TempDir()})
	assert.False(t, ok)
}

func TestExportError(t *testing.T) {
	err := &ExportError{Format: FormatPDF, Path: "/x.pdf", Err: os.ErrPermission}
	assert.Contains(t, err.Error(), "export pdf to /x.pdf")
	assert.ErrorIs(t, err, os.ErrPermission)
}
