// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upload extracts prompt text from uploaded files and keeps the
// raw uploads per user.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fumiama/go-docx"

	"github.com/jeranaias/stembot/internal/util"
)

// MaxSize is the largest upload accepted.
const MaxSize = 20 << 20

var (
	// ErrUnsupported is returned for file types text cannot be taken from.
	ErrUnsupported = errors.New("unsupported file type")

	// ErrTooLarge is returned for uploads over MaxSize.
	ErrTooLarge = errors.New("file too large")

	// ErrInvalidOwner is returned when the owner is not a single path element.
	ErrInvalidOwner = errors.New("invalid owner")
)

// SupportedExtensions lists the extensions Extract understands.
var SupportedExtensions = []string{".txt", ".md", ".docx"}

// Supported reports whether Extract can handle name.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Extract returns the trimmed text of an uploaded file. Plain text is read
// as UTF-8 with invalid bytes dropped; Word documents yield their
// paragraphs joined by newlines.
func Extract(name string, data []byte) (string, error) {
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return strings.TrimSpace(strings.ToValidUTF8(string(data), "")), nil
	case ".docx":
		text, err := extractDocx(data)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		return strings.TrimSpace(text), nil
	default:
		return "", fmt.Errorf("%s: %w", name, ErrUnsupported)
	}
}

func extractDocx(data []byte) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var paras []string
	for _, item := range doc.Document.Body.Items {
		if p, ok := item.(*docx.Paragraph); ok {
			paras = append(paras, p.String())
		}
	}
	return strings.Join(paras, "\n"), nil
}

// Dir keeps raw uploads under <root>/<owner>/.
type Dir struct {
	Root string
	now  func() time.Time
}

// NewDir creates a Dir rooted at root.
func NewDir(root string) *Dir {
	return &Dir{Root: root, now: time.Now}
}

// Save stores data as "<timestamp>_<name>" in the owner's directory and
// returns the written path.
func (d *Dir) Save(owner, name string, data []byte) (string, error) {
	if !util.ValidPathElement(owner) {
		return "", ErrInvalidOwner
	}
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}

	stem := d.now().Format("20060102150405") + "_" + filepath.Base(name)
	path := filepath.Join(d.Root, owner, util.SanitizeFilename(stem))
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}
