package engine

import (
	"fmt"

	"github.com/campaign-tools/inquiry-ingest/internal/schema"
)

// Category classifies a parse failure. Categories are mutually exclusive:
// a ParseResult carries at most one.
type Category string

const (
	CategoryEmptyFile       Category = "empty_file"
	CategoryHeaderMismatch  Category = "header_mismatch"
	CategoryNoDataRows      Category = "no_data_rows"
	CategoryDecodeFailure   Category = "decode_failure"
	CategoryCreationFailure Category = "creation_failure"
	CategoryTimeout         Category = "timeout"
	CategoryEngineFault     Category = "engine_fault"
)

// ParseError is the failure half of a ParseResult. Message holds internal
// diagnostic detail (decoder output, panic values); the user-facing text
// for a category lives in the ingest package, not here.
type ParseError struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// ParseResult is the terminal output of one parse task.
//
// Invariants:
//   - FullRows != nil only when HeadersValid
//   - Success implies HeadersValid, DataExists and Err == nil
//   - TotalRowCount == len(FullRows)
type ParseResult struct {
	Success      bool        `json:"success"`
	Err          *ParseError `json:"error"`
	HeadersValid bool        `json:"headersValid"`
	DataExists   bool        `json:"dataExists"`

	// PreviewRows is the header row followed by at most
	// schema.PreviewRowLimit data rows. It is populated whenever any
	// tabular data could be extracted, including on failure, so callers
	// can show the user what was actually read.
	PreviewRows [][]string `json:"previewRows"`

	// FullRows holds every meaningful row, unbounded. Populated only when
	// headers matched; callers must still gate on Success before using it.
	FullRows []schema.Row `json:"fullRows"`

	TotalRowCount int `json:"totalRowCount"`

	// Diagnostic metadata, not correctness-bearing.
	FileSize         int64   `json:"fileSize"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
	IsLargeFile      bool    `json:"isLargeFile"`
}

// Progress is an advisory notification emitted while a parse is running.
// Controllers may display it but are not required to act on it.
type Progress struct {
	Stage    string `json:"stage"`
	Percent  int    `json:"percent"`
	FileSize int64  `json:"fileSize"`
}

// Parse stages reported via Progress.
const (
	StageReading     = "reading"
	StageDecoding    = "decoding"
	StageNormalizing = "normalizing"
)

// Message is one entry in an engine's output stream: either a progress
// notification or the terminal result, never both. For a given task,
// progress messages precede the single result message.
type Message struct {
	Progress *Progress
	Result   *ParseResult
}
