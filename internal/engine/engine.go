// Package engine converts one uploaded spreadsheet into a structured
// parse result. The engine is the leaf of the ingestion pipeline: it knows
// nothing about HTTP, persistence or the controlling state machine, and it
// holds no state across invocations, so callers instantiate one per file.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/campaign-tools/inquiry-ingest/internal/schema"
)

// messageBuffer sizes the output channel so the engine goroutine can
// always run to completion without a reader. A parse emits a small fixed
// number of progress messages plus one result, so the buffer never fills
// and an abandoned engine cannot leak its goroutine.
const messageBuffer = 8

// Engine parses exactly one file in its own goroutine and reports back
// through an ordered message stream: zero or more Progress entries
// followed by exactly one Result, after which the stream is closed. There
// is no silent failure path; a panic mid-parse is reported as an
// engine-fault result.
type Engine struct {
	fileName string
	payload  []byte
}

// New creates an engine for one file. The payload is held as-is; decoding
// happens when Run is called.
func New(fileName string, payload []byte) *Engine {
	return &Engine{fileName: fileName, payload: payload}
}

// Run starts the parse and returns its message stream. Cancelling ctx is
// a hard kill from the caller's perspective: the engine stops emitting
// immediately and the stream is closed without a terminal result. Callers
// that cancel must not act on anything received afterwards.
func (e *Engine) Run(ctx context.Context) <-chan Message {
	out := make(chan Message, messageBuffer)

	go func() {
		defer close(out)

		emit := func(m Message) {
			select {
			case <-ctx.Done():
			case out <- m:
			}
		}

		result := e.guardedParse(func(p Progress) {
			emit(Message{Progress: &p})
		})
		emit(Message{Result: &result})
	}()

	return out
}

// guardedParse runs the parse pipeline with panic recovery. A recovered
// panic becomes a well-formed failure result so the controller never sees
// a raw fault from this package.
func (e *Engine) guardedParse(emit func(Progress)) (result ParseResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			size := int64(len(e.payload))
			result = ParseResult{
				Err: &ParseError{
					Category: CategoryEngineFault,
					Message:  fmt.Sprintf("parse %s: panic: %v", e.fileName, r),
				},
				FileSize:         size,
				ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
				IsLargeFile:      size > schema.LargeFileThreshold,
			}
		}
	}()

	return parse(e.payload, emit)
}
