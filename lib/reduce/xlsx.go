// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package reduce

import (
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
	"go.uber.org/multierr"
)

const sheet = "Sheet1"

// SaveXLSX writes t to path with one header row. NaN samples are left as
// empty cells.
func SaveXLSX(path string, t Table) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f := excelize.NewFile()
	defer func() { err = multierr.Append(err, f.Close()) }()

	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "header")
	}
	for i, row := range t.Rows {
		cells := make([]any, len(row))
		for j, v := range row {
			if !math.IsNaN(v) {
				cells[j] = v
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return errors.Wrapf(err, "row %d", i+1)
		}
	}
	return f.SaveAs(path)
}
