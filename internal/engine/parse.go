package engine

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/campaign-tools/inquiry-ingest/internal/schema"
	"github.com/xuri/excelize/v2"
)

// parse converts one binary workbook into a ParseResult. It is synchronous
// and holds no state; Engine wraps it with goroutine isolation, progress
// emission and panic recovery.
//
// The decode reads raw cell values only: no formula evaluation, no style
// or date coercion, so content round-trips as the advertiser typed it.
func parse(payload []byte, emit func(Progress)) ParseResult {
	start := time.Now()
	size := int64(len(payload))

	res := finalizeOn(start, size)

	emit(Progress{Stage: StageReading, Percent: 5, FileSize: size})

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return res(ParseResult{
			Err: &ParseError{
				Category: CategoryDecodeFailure,
				Message:  fmt.Sprintf("open workbook: %v", err),
			},
		})
	}
	defer func() { _ = f.Close() }()

	emit(Progress{Stage: StageDecoding, Percent: 35, FileSize: size})

	rows, err := extractRows(f)
	if err != nil {
		return res(ParseResult{
			Err: &ParseError{
				Category: CategoryDecodeFailure,
				Message:  fmt.Sprintf("read rows: %v", err),
			},
		})
	}

	if len(rows) == 0 {
		// Nothing tabular at all. The preview still shows the expected
		// header row so the user can see what the file should contain.
		return res(ParseResult{
			Err: &ParseError{
				Category: CategoryEmptyFile,
				Message:  "no rows extracted from first sheet",
			},
			PreviewRows: [][]string{schema.HeaderCells()},
		})
	}

	emit(Progress{Stage: StageNormalizing, Percent: 70, FileSize: size})

	if !schema.HeadersMatch(rows[0]) {
		return res(ParseResult{
			Err: &ParseError{
				Category: CategoryHeaderMismatch,
				Message: fmt.Sprintf("expected columns %v, found %v",
					schema.Headers, rows[0]),
			},
			PreviewRows: rawPreview(rows),
		})
	}

	full := make([]schema.Row, 0, len(rows)-1)
	for _, cells := range rows[1:] {
		row := schema.RowFromCells(cells)
		if row.Meaningful() {
			full = append(full, row)
		}
	}

	result := ParseResult{
		HeadersValid:  true,
		DataExists:    len(full) > 0,
		FullRows:      full,
		TotalRowCount: len(full),
		PreviewRows:   buildPreview(full),
	}
	if !result.DataExists {
		result.Err = &ParseError{
			Category: CategoryNoDataRows,
			Message:  "headers matched but no meaningful data rows follow",
		}
	}
	result.Success = result.HeadersValid && result.DataExists && result.Err == nil
	return res(result)
}

// extractRows reads the first sheet as raw string cells, dropping rows
// that are entirely blank. Missing cells default to the empty string via
// later padding; row 0 is not special-cased here.
func extractRows(f *excelize.File) ([][]string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}

	kept := rows[:0]
	for _, cells := range rows {
		if !blankCells(cells) {
			kept = append(kept, cells)
		}
	}
	return kept, nil
}

func blankCells(cells []string) bool {
	for _, v := range cells {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// buildPreview returns the expected header row followed by the first
// schema.PreviewRowLimit data rows. Only reachable when headers matched.
func buildPreview(full []schema.Row) [][]string {
	n := len(full)
	if n > schema.PreviewRowLimit {
		n = schema.PreviewRowLimit
	}
	preview := make([][]string, 0, n+1)
	preview = append(preview, schema.HeaderCells())
	for _, row := range full[:n] {
		preview = append(preview, row.Cells())
	}
	return preview
}

// rawPreview is the best-effort preview for a sheet whose headers did not
// match: the rows as given, padded or truncated to the schema width so the
// display stays rectangular. The header row is shown as found, not as
// expected, so the user can spot the difference.
func rawPreview(rows [][]string) [][]string {
	n := len(rows)
	if n > schema.PreviewRowLimit+1 {
		n = schema.PreviewRowLimit + 1
	}
	preview := make([][]string, 0, n)
	for _, cells := range rows[:n] {
		preview = append(preview, schema.PadCells(cells))
	}
	return preview
}

// finalizeOn returns a closure that stamps elapsed time and file metadata
// onto a result. Every exit path of parse goes through it so there is no
// silent path that skips the annotations.
func finalizeOn(start time.Time, size int64) func(ParseResult) ParseResult {
	return func(r ParseResult) ParseResult {
		r.FileSize = size
		r.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
		r.IsLargeFile = size > schema.LargeFileThreshold
		return r
	}
}
