package ingest

// State tags the ingestion slot's lifecycle position.
type State string

const (
	// StateIdle means no file is selected. Initial state, re-entered when
	// the slot is cleared.
	StateIdle State = "idle"

	// StateParsing means an engine is running for the current file and
	// the task timer is armed.
	StateParsing State = "parsing"

	// StateErrored means the upload source rejected the file before any
	// engine ran. Terminal until a new file is selected.
	StateErrored State = "errored"

	// StateResolved means a terminal result (real or synthesized) was
	// accepted for the current file. Terminal until a new file is
	// selected or the slot is cleared.
	StateResolved State = "resolved"
)

// FileID is the lightweight fingerprint binding a task to one file.
// Two selections with the same name and size are treated as the same file.
type FileID struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// FileSelection is what the upload source hands over: either an accepted
// payload or a rejection reason. A non-empty RejectReason means no engine
// is ever started for this selection.
type FileSelection struct {
	Name         string
	Size         int64
	Payload      []byte
	RejectReason string
}

// ID returns the selection's file fingerprint.
func (s FileSelection) ID() FileID {
	return FileID{Name: s.Name, Size: s.Size}
}
