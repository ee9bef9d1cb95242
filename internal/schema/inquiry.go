// Package schema defines the fixed column layout for campaign inquiry
// spreadsheets. The layout must match the template files already in the
// hands of advertisers, so the header labels and their order are frozen.
package schema

import "strings"

const (
	// ColumnCount is the exact number of columns an inquiry sheet carries.
	ColumnCount = 6

	// PreviewRowLimit caps the number of data rows included in a preview.
	PreviewRowLimit = 20

	// LargeFileThreshold marks files whose size warrants a diagnostic flag.
	LargeFileThreshold = 5 * 1024 * 1024

	// SheetName is the sheet used in generated template workbooks.
	SheetName = "Sheet1"
)

// Headers are the expected column labels, compared positionally against
// row 0 of an uploaded sheet. Matching is exact after trimming; labels are
// never reordered or fuzzy-matched.
var Headers = [ColumnCount]string{
	"캠페인 키",
	"캠페인 명",
	"ADID / IDFA",
	"이름",
	"연락처",
	"비고",
}

// HeaderCells returns the expected header row as a fresh slice.
func HeaderCells() []string {
	cells := make([]string, ColumnCount)
	copy(cells, Headers[:])
	return cells
}

// Row is one normalized inquiry record. All fields are strings; absent
// cells normalize to the empty string.
type Row struct {
	CampaignKey  string `json:"campaignKey"`
	CampaignName string `json:"campaignName"`
	Identifier   string `json:"identifier"`
	UserName     string `json:"userName"`
	Contact      string `json:"contact"`
	Remarks      string `json:"remarks"`
}

// RowFromCells builds a Row from raw sheet cells, padding short rows with
// empty strings and ignoring cells beyond ColumnCount.
func RowFromCells(cells []string) Row {
	padded := PadCells(cells)
	return Row{
		CampaignKey:  padded[0],
		CampaignName: padded[1],
		Identifier:   padded[2],
		UserName:     padded[3],
		Contact:      padded[4],
		Remarks:      padded[5],
	}
}

// Cells returns the row's fields in column order.
func (r Row) Cells() []string {
	return []string{r.CampaignKey, r.CampaignName, r.Identifier, r.UserName, r.Contact, r.Remarks}
}

// Meaningful reports whether at least one field is non-empty after trimming.
// Rows that fail this check are dropped during normalization.
func (r Row) Meaningful() bool {
	for _, cell := range r.Cells() {
		if strings.TrimSpace(cell) != "" {
			return true
		}
	}
	return false
}

// PadCells forces a cell slice to exactly ColumnCount entries: short rows
// are padded with empty strings, extra cells are dropped.
func PadCells(cells []string) []string {
	out := make([]string, ColumnCount)
	for i := 0; i < ColumnCount && i < len(cells); i++ {
		out[i] = cells[i]
	}
	return out
}

// HeadersMatch compares a raw header row positionally against Headers.
// The cell count must be at least ColumnCount and each of the first
// ColumnCount cells must equal the expected label after trimming.
func HeadersMatch(cells []string) bool {
	if len(cells) < ColumnCount {
		return false
	}
	for i, want := range Headers {
		if strings.TrimSpace(cells[i]) != want {
			return false
		}
	}
	// Extra trailing cells are tolerated only when empty; a labelled
	// seventh column means the sheet came from a different template.
	for _, extra := range cells[ColumnCount:] {
		if strings.TrimSpace(extra) != "" {
			return false
		}
	}
	return true
}
