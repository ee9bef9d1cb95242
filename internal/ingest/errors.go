package ingest

// errors.go maps parse failure categories to user-facing messages.
//
// Error codes are grouped by origin so support staff can triage from the
// code alone:
//
//	SEL001          - file rejected before any engine ran
//	ING101-ING107   - engine or controller failure categories
//
// The engine's ParseError.Message carries internal diagnostic detail and
// is logged, never shown; UserMessage is what the caller displays.

import (
	"fmt"

	"github.com/campaign-tools/inquiry-ingest/internal/engine"
)

// UserMessage is the displayable form of a failure: what happened, what
// the user can do about it, and a code for support reference.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

// SelectionMessage is the message for a file refused by the upload
// source. The reason is already user-facing (wrong extension, too big),
// so it passes through with the selection code attached.
func SelectionMessage(reason string) UserMessage {
	return UserMessage{
		Message: reason,
		Action:  "Choose a different .xlsx file and try again",
		Code:    "SEL001",
	}
}

var categoryMessages = map[engine.Category]UserMessage{
	engine.CategoryEmptyFile: {
		Message: "The file contains no rows",
		Action:  "Download the template and fill in at least one inquiry row",
		Code:    "ING101",
	},
	engine.CategoryHeaderMismatch: {
		Message: "The first row does not match the expected column headers",
		Action:  "Use the template headers in their original order, then re-upload",
		Code:    "ING102",
	},
	engine.CategoryNoDataRows: {
		Message: "Headers look right but no data rows follow",
		Action:  "Add at least one inquiry row below the header row",
		Code:    "ING103",
	},
	engine.CategoryDecodeFailure: {
		Message: "The file could not be read as an Excel workbook",
		Action:  "Save the file as .xlsx and upload it again",
		Code:    "ING104",
	},
	engine.CategoryCreationFailure: {
		Message: "The system is busy processing other files",
		Action:  "Wait a moment and submit the file again",
		Code:    "ING105",
	},
	engine.CategoryTimeout: {
		Message: "Processing took too long and was stopped",
		Action:  "Try a smaller file or try again later",
		Code:    "ING106",
	},
	engine.CategoryEngineFault: {
		Message: "An unexpected error occurred while processing the file",
		Action:  "Try again, or contact support with this code",
		Code:    "ING107",
	},
}

// fallbackMessage covers a category this build does not know, which can
// only happen if the engine grows a category without a mapping here.
var fallbackMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ING100",
}

// MessageFor translates an engine failure into its displayable message.
// Returns the zero UserMessage for a nil error.
func MessageFor(err *engine.ParseError) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	if msg, ok := categoryMessages[err.Category]; ok {
		return msg
	}
	return fallbackMessage
}

// FormatUserError renders a message the way it is shown inline:
// "Message (Code: XXX). Action".
func FormatUserError(msg UserMessage) string {
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
