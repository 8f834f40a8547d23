// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jeranaias/stembot/internal/model"
	"github.com/jeranaias/stembot/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// ExportError describes a failed export attempt.
type ExportError struct {
	Format Format
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s to %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// =============================================================================
// RENDERER
// =============================================================================

// Config holds the branding used by the renderers.
type Config struct {
	// LogoPath is an image placed on Word and PDF exports when it exists.
	LogoPath string

	// FontDir is searched for DejaVuSans.ttf for PDF exports.
	FontDir string

	// Watermark is printed in the footer of every PDF page.
	Watermark string

	// Logger receives warnings and failures (default: slog.Default()).
	Logger *slog.Logger
}

// branding is the part of Config that can change while the server runs.
type branding struct {
	logoPath  string
	fontDir   string
	watermark string
}

// logoAvailable reports whether a configured logo exists on disk.
func (b *branding) logoAvailable() bool {
	if b.logoPath == "" {
		return false
	}
	info, err := os.Stat(b.logoPath)
	return err == nil && !info.IsDir()
}

// Renderer writes transcripts to files. It is safe for concurrent use;
// each export reads the branding once, so SetBranding never mixes two
// configurations in one file.
type Renderer struct {
	brand  atomic.Pointer[branding]
	logger *slog.Logger
}

// NewRenderer creates a Renderer from cfg.
func NewRenderer(cfg Config) *Renderer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Renderer{logger: logger}
	r.SetBranding(cfg)
	return r
}

// SetBranding replaces the logo, font directory and watermark used by
// later exports. cfg.Logger is ignored.
func (r *Renderer) SetBranding(cfg Config) {
	r.brand.Store(&branding{
		logoPath:  cfg.LogoPath,
		fontDir:   cfg.FontDir,
		watermark: cfg.Watermark,
	})
}

// guard turns a panic inside a renderer into a logged failure.
func (r *Renderer) guard(format Format, path string, ok *bool) {
	if rec := recover(); rec != nil {
		r.fail(format, path, fmt.Errorf("panic: %v", rec))
		*ok = false
	}
}

func (r *Renderer) fail(format Format, path string, err error) bool {
	r.logger.Error("export failed", "error", &ExportError{Format: format, Path: path, Err: err})
	return false
}

func (r *Renderer) warn(format Format, msg string, err error) {
	r.logger.Warn(msg, "format", string(format), "error", err)
}

// writeOutput is the single final write step shared by all formats.
func (r *Renderer) writeOutput(format Format, path string, data []byte) bool {
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return r.fail(format, path, err)
	}
	r.logger.Info("export written", "format", string(format), "path", path, "bytes", len(data))
	return true
}

// SaveText writes text verbatim as UTF-8.
func (r *Renderer) SaveText(text, path string) (ok bool) {
	defer r.guard(FormatText, path, &ok)
	return r.writeOutput(FormatText, path, []byte(text))
}

// =============================================================================
// DISPATCH
// =============================================================================

// Options selects what Export writes and where.
type Options struct {
	// OutputDir receives the file; it is created if missing.
	OutputDir string

	// Prefix is the filename stem, normally the session's filename prefix.
	// Default: the current time as a session id.
	Prefix string

	// Owner is appended to the stem so users never overwrite each other.
	Owner string

	IncludeUser      bool
	IncludeAssistant bool
}

// FileName returns the sanitised "<prefix>_<owner><ext>" name for format.
// Only the stem is shortened, so the extension always survives.
func (o Options) FileName(format Format) string {
	prefix := o.Prefix
	if prefix == "" {
		prefix = model.NewSessionID(time.Now())
	}
	stem := prefix
	if o.Owner != "" {
		stem += "_" + o.Owner
	}
	return util.SanitizeFilename(stem) + format.FileExtension()
}

// Export renders the selected turns of messages in format and returns the
// written path. ok is false when nothing was written.
func (r *Renderer) Export(format Format, messages []model.Message, opts Options) (path string, ok bool) {
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	path = filepath.Join(dir, opts.FileName(format))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return path, r.fail(format, path, fmt.Errorf("create output directory: %w", err))
	}

	selected := FilterMessages(messages, opts.IncludeUser, opts.IncludeAssistant)

	switch format {
	case FormatText:
		ok = r.SaveText(FormatConversationText(selected, true, true), path)
	case FormatWord:
		ok = r.SaveWord(FormatConversationText(selected, true, true), path)
	case FormatPDF:
		ok = r.SavePDF(FormatConversationText(selected, true, true), path)
	case FormatExcel:
		ok = r.SaveExcel(selected, path)
	case FormatPowerPoint:
		ok = r.SavePowerPoint(selected, path)
	default:
		return path, r.fail(format, path, fmt.Errorf("unsupported export format: %s", format))
	}
	return path, ok
}
