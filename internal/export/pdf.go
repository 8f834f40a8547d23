// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
)

// PDF layout, in millimetres.
const (
	pdfFontFile     = "DejaVuSans.ttf"
	pdfFontFamily   = "DejaVu"
	pdfFallbackFont = "Helvetica"
	pdfFontSize     = 12
	pdfLineHeight   = 10
	pdfPageBreak    = 15
	pdfLogoWidth    = 30
	pdfLogoTop      = 10
	pdfLogoGap      = 25
)

// SavePDF writes text as a single flowing text area. A Unicode font from
// the font directory is used when present; otherwise the built-in
// Helvetica is used and characters outside cp1252 are lost.
func (r *Renderer) SavePDF(text, path string) (ok bool) {
	defer r.guard(FormatPDF, path, &ok)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, pdfPageBreak)

	b := r.brand.Load()
	family, translate := r.pdfFont(pdf, b.fontDir)

	if b.watermark != "" {
		mark := translate(b.watermark)
		pdf.SetFooterFunc(func() {
			pdf.SetY(-pdfPageBreak)
			pdf.SetFont(family, "", 8)
			pdf.SetTextColor(150, 150, 150)
			pdf.CellFormat(0, 10, mark, "", 0, "C", false, 0, "")
			pdf.SetTextColor(0, 0, 0)
			pdf.SetFont(family, "", pdfFontSize)
		})
	}

	pdf.AddPage()
	pdf.SetFont(family, "", pdfFontSize)

	if b.logoAvailable() {
		pageWidth, _ := pdf.GetPageSize()
		left, _, right, _ := pdf.GetMargins()
		x := left + (pageWidth-left-right-pdfLogoWidth)/2
		pdf.ImageOptions(b.logoPath, x, pdfLogoTop, pdfLogoWidth, 0, false,
			fpdf.ImageOptions{ReadDpi: true}, 0, "")
		if pdf.Err() {
			r.warn(FormatPDF, "could not add logo", pdf.Error())
			pdf.ClearError()
		} else {
			pdf.Ln(pdfLogoGap)
		}
	}

	pdf.MultiCell(0, pdfLineHeight, translate(text), "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return r.fail(FormatPDF, path, err)
	}
	return r.writeOutput(FormatPDF, path, buf.Bytes())
}

// pdfFont registers the Unicode font if available and returns the family
// to use along with a translator for text passed to it.
func (r *Renderer) pdfFont(pdf *fpdf.Fpdf, fontDir string) (string, func(string) string) {
	identity := func(s string) string { return s }

	if fontDir == "" {
		return pdfFallbackFont, pdf.UnicodeTranslatorFromDescriptor("")
	}

	fontPath := filepath.Join(fontDir, pdfFontFile)
	if _, err := os.Stat(fontPath); err != nil {
		r.warn(FormatPDF, "font not found, using default", err)
		return pdfFallbackFont, pdf.UnicodeTranslatorFromDescriptor("")
	}

	pdf.AddUTF8Font(pdfFontFamily, "", fontPath)
	if !pdf.Err() {
		return pdfFontFamily, identity
	}
	r.warn(FormatPDF, "could not load font, using default", pdf.Error())
	pdf.ClearError()
	return pdfFallbackFont, pdf.UnicodeTranslatorFromDescriptor("")
}
