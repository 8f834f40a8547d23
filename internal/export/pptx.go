// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/jeranaias/stembot/internal/model"
)

// Font sizes in hundredths of a point.
const (
	slideTitleSize    = 3200
	slideContentSize  = 1800
	slideHeadingSize  = 1400
	slideThinkingSize = 1200
)

// SlideThinkingHeading precedes the reasoning on assistant slides.
const SlideThinkingHeading = "AI Thinking Process:"

// slideEmptyContent stands in for a message without content.
const slideEmptyContent = "(No content)"

type slideParagraph struct {
	Lines []string
	Size  int
	Bold  bool
	Level int
}

type slide struct {
	Title      string
	Paragraphs []slideParagraph
}

// SavePowerPoint writes one slide per message: the role as title, the
// content at 18 pt and, for assistant turns with reasoning, a bold heading
// followed by the reasoning one level deeper. An empty transcript fails
// without touching path.
func (r *Renderer) SavePowerPoint(messages []model.Message, path string) (ok bool) {
	defer r.guard(FormatPowerPoint, path, &ok)

	if len(messages) == 0 {
		r.warn(FormatPowerPoint, "nothing to export", errNothingToExport)
		return false
	}

	slides := make([]slide, 0, len(messages))
	for _, msg := range messages {
		slides = append(slides, buildSlide(msg))
	}

	data, err := buildPresentation(slides, time.Now().UTC())
	if err != nil {
		return r.fail(FormatPowerPoint, path, err)
	}
	return r.writeOutput(FormatPowerPoint, path, data)
}

func buildSlide(msg model.Message) slide {
	content := msg.Content
	if content == "" {
		content = slideEmptyContent
	}
	s := slide{
		Title: "Role: " + msg.Role.DisplayName(),
		Paragraphs: []slideParagraph{
			{Lines: splitLines(content), Size: slideContentSize},
		},
	}
	if msg.ThinkingProcess != "" {
		s.Paragraphs = append(s.Paragraphs,
			slideParagraph{Size: slideContentSize},
			slideParagraph{Lines: []string{SlideThinkingHeading}, Size: slideHeadingSize, Bold: true},
			slideParagraph{Lines: splitLines(msg.ThinkingProcess), Size: slideThinkingSize, Level: 1},
		)
	}
	return s
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

// =============================================================================
// PACKAGE ASSEMBLY
// =============================================================================

type packagePart struct {
	name string
	tmpl string
	data any
}

// buildPresentation assembles the Office Open XML package in memory.
func buildPresentation(slides []slide, created time.Time) ([]byte, error) {
	parts := []packagePart{
		{"[Content_Types].xml", "content_types", slides},
		{"_rels/.rels", "root_rels", nil},
		{"docProps/core.xml", "core", created.Format(time.RFC3339)},
		{"docProps/app.xml", "app", len(slides)},
		{"ppt/presentation.xml", "presentation", slides},
		{"ppt/_rels/presentation.xml.rels", "presentation_rels", slides},
		{"ppt/slideMasters/slideMaster1.xml", "master", nil},
		{"ppt/slideMasters/_rels/slideMaster1.xml.rels", "master_rels", nil},
		{"ppt/slideLayouts/slideLayout1.xml", "layout", nil},
		{"ppt/slideLayouts/_rels/slideLayout1.xml.rels", "layout_rels", nil},
		{"ppt/theme/theme1.xml", "theme", nil},
	}
	for i, s := range slides {
		n := strconv.Itoa(i + 1)
		parts = append(parts,
			packagePart{"ppt/slides/slide" + n + ".xml", "slide", s},
			packagePart{"ppt/slides/_rels/slide" + n + ".xml.rels", "slide_rels", nil},
		)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, err
		}
		if err := pptxTemplates.ExecuteTemplate(w, part.tmpl, part.data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func xmlText(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

var pptxTemplates = template.Must(template.New("pptx").Funcs(template.FuncMap{
	"xml": xmlText,
	"add": func(a, b int) int { return a + b },
}).Parse(pptxParts))
