// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders chat transcripts to documents.
//
// # Key Types
//
//   - Format: target format (txt, docx, pdf, xlsx, pptx)
//   - Renderer: writes one format to a path, reporting success as a bool
//   - Options: output directory, filename stem and turn filters for Export
//   - ExportError: the failure logged when a save step fails
//
// # Supported Formats
//
//   - txt: the formatted conversation text, UTF-8
//   - docx: one paragraph per turn block, optional centered logo
//   - pdf: one flowing text area, optional logo and footer watermark
//   - xlsx: one row per message (Role, Message, Thinking Process)
//   - pptx: one slide per message
//
// # Usage
//
//	r := export.NewRenderer(export.Config{LogoPath: "logo.jpg", FontDir: "fonts"})
//	path, ok := r.Export(export.FormatPDF, messages, export.Options{
//	    OutputDir: "exported_files",
//	    Prefix:    "20240101120000",
//	    Owner:     "alice",
//	})
//
// Renderers never panic past their boundary. Failures of optional pieces
// (logo, font) are logged as warnings and the document is still written;
// only a failing final write makes a save return false. Every document is
// rendered in memory first, so a failed export leaves nothing on disk.
package export
