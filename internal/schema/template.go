package schema

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// BuildWorkbook creates an in-memory .xlsx workbook whose first sheet
// contains the header row followed by the given data rows. It backs the
// template download endpoint (no rows) and xlsx fixtures in tests.
func BuildWorkbook(rows [][]string) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetRow(SheetName, "A1", &[]interface{}{
		Headers[0], Headers[1], Headers[2], Headers[3], Headers[4], Headers[5],
	}); err != nil {
		return nil, fmt.Errorf("write header row: %w", err)
	}

	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("row %d axis: %w", i+2, err)
		}
		if err := f.SetSheetRow(SheetName, axis, &cells); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf, nil
}

// Template returns the empty inquiry template workbook advertisers fill in.
func Template() (*bytes.Buffer, error) {
	return BuildWorkbook(nil)
}
