// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"errors"
	"strings"

	"github.com/fumiama/go-docx"
)

// emuPerInch converts inches to English Metric Units.
const emuPerInch = 914400

// wordLogoWidth is the rendered width of the logo in Word exports.
const wordLogoWidth = 1.5 * emuPerInch

// SaveWord writes text as a Word document, one paragraph per blank-line
// delimited block, preceded by the centered logo when one is configured.
func (r *Renderer) SaveWord(text, path string) (ok bool) {
	defer r.guard(FormatWord, path, &ok)

	doc := docx.New().WithDefaultTheme()

	if b := r.brand.Load(); b.logoAvailable() {
		if err := addWordLogo(doc, b.logoPath); err != nil {
			r.warn(FormatWord, "could not add logo", err)
		} else {
			doc.AddParagraph() // spacing
		}
	}

	for _, block := range strings.Split(text, "\n\n") {
		doc.AddParagraph().AddText(strings.TrimSpace(block))
	}

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return r.fail(FormatWord, path, err)
	}
	return r.writeOutput(FormatWord, path, buf.Bytes())
}

func addWordLogo(doc *docx.Docx, logoPath string) error {
	run, err := doc.AddParagraph().Justification("center").AddInlineDrawingFrom(logoPath)
	if err != nil {
		return err
	}
	if len(run.Children) == 0 {
		return errors.New("logo run has no drawing")
	}
	drawing, ok := run.Children[0].(*docx.Drawing)
	if !ok || drawing.Inline == nil || drawing.Inline.Extent == nil {
		return errors.New("logo run has no inline drawing")
	}

	ext := drawing.Inline.Extent
	height := int64(wordLogoWidth)
	if ext.CX > 0 {
		height = ext.CY * int64(wordLogoWidth) / ext.CX
	}
	drawing.Inline.Size(int64(wordLogoWidth), height)
	return nil
}
