// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"

	"github.com/xuri/excelize/v2"

	"github.com/jeranaias/stembot/internal/model"
)

const excelSheet = "Sheet1"

// ExcelHeader is the first row of spreadsheet exports.
var ExcelHeader = []interface{}{"Role", "Message", "Thinking Process"}

// errNothingToExport is reported when a table export has no rows.
var errNothingToExport = errors.New("no messages to export")

// SaveExcel writes one row per message. An empty transcript fails without
// touching path.
func (r *Renderer) SaveExcel(messages []model.Message, path string) (ok bool) {
	defer r.guard(FormatExcel, path, &ok)

	if len(messages) == 0 {
		r.warn(FormatExcel, "nothing to export", errNothingToExport)
		return false
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			r.warn(FormatExcel, "close workbook", err)
		}
	}()

	if err := f.SetSheetRow(excelSheet, "A1", &ExcelHeader); err != nil {
		return r.fail(FormatExcel, path, err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		r.warn(FormatExcel, "header style", err)
	} else if err := f.SetCellStyle(excelSheet, "A1", "C1", style); err != nil {
		r.warn(FormatExcel, "header style", err)
	}

	for i, msg := range messages {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return r.fail(FormatExcel, path, err)
		}
		row := []interface{}{msg.Role.DisplayName(), msg.Content, msg.ThinkingProcess}
		if err := f.SetSheetRow(excelSheet, cell, &row); err != nil {
			return r.fail(FormatExcel, path, err)
		}
	}

	if err := f.SetColWidth(excelSheet, "B", "C", 80); err != nil {
		r.warn(FormatExcel, "column width", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return r.fail(FormatExcel, path, err)
	}
	return r.writeOutput(FormatExcel, path, buf.Bytes())
}
