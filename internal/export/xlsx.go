// Package export writes a report table to a spreadsheet for operators.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"mailingest-engine/internal/domain"
)

const maxSheetName = 31

// Header is the column order of an exported sheet.
func Header(s domain.Schema) []string {
	h := append([]string(nil), s.Key...)
	for _, c := range s.Columns {
		h = append(h, c.Name)
	}
	return append(h, "message_id", "attachment_name")
}

// WriteXLSX writes one sheet, named after the report, with a header row and
// one row per entity. Absent values are left as empty cells.
func WriteXLSX(w io.Writer, s domain.Schema, entities []domain.Entity) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := s.Report
	if sheet == "" {
		sheet = s.Table
	}
	if len(sheet) > maxSheetName {
		sheet = sheet[:maxSheetName]
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}

	header := Header(s)
	row := make([]any, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return fmt.Errorf("xlsx: header: %w", err)
	}

	for n, e := range entities {
		row := make([]any, 0, len(header))
		for _, k := range e.Key {
			row = append(row, k)
		}
		for _, c := range s.Columns {
			row = append(row, cellValue(e.Fields[c.Name]))
		}
		row = append(row, e.Provenance.MessageID, e.Provenance.AttachmentName)

		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return fmt.Errorf("xlsx: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx: row %d: %w", n+2, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx: write: %w", err)
	}
	return nil
}

func cellValue(v domain.Value) any {
	if !v.Valid {
		return nil
	}
	switch v.Kind.Stored() {
	case domain.KindInteger:
		return v.Int
	case domain.KindDatetime:
		return v.Time.UTC()
	}
	return v.Str
}
