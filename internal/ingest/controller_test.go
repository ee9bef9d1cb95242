package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/campaign-tools/inquiry-ingest/internal/engine"
)

// ============================================================================
// Test helpers
// ============================================================================

func okSelection(name string, size int64) FileSelection {
	return FileSelection{Name: name, Size: size, Payload: []byte("payload")}
}

func successResult(rows int) *engine.ParseResult {
	return &engine.ParseResult{
		Success:       true,
		HeadersValid:  true,
		DataExists:    true,
		FullRows:      nil,
		TotalRowCount: rows,
	}
}

// scriptedRunner lets a test hand-feed engine messages for each started
// task. Channels are buffered like the real engine so an abandoned script
// never blocks the test.
type scriptedRunner struct {
	starts  atomic.Int64
	streams chan chan engine.Message
	ctxs    chan context.Context
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		streams: make(chan chan engine.Message, 16),
		ctxs:    make(chan context.Context, 16),
	}
}

func (s *scriptedRunner) run(ctx context.Context, fileName string, payload []byte) <-chan engine.Message {
	s.starts.Add(1)
	ch := make(chan engine.Message, 8)
	s.streams <- ch
	s.ctxs <- ctx
	return ch
}

// next returns the message channel for the most recently started task.
func (s *scriptedRunner) next(t *testing.T) (chan engine.Message, context.Context) {
	t.Helper()
	select {
	case ch := <-s.streams:
		return ch, <-s.ctxs
	case <-time.After(time.Second):
		t.Fatal("no engine was started")
		return nil, nil
	}
}

func waitForState(t *testing.T, c *Controller, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := c.Snapshot()
		if snap.State == want {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("controller never reached state %q (currently %q)", want, c.Snapshot().State)
	return Snapshot{}
}

func newTestController(script *scriptedRunner) *Controller {
	c := NewController(nil)
	c.start = script.run
	return c
}

// ============================================================================
// State machine transitions
// ============================================================================

func TestController_InitialStateIdle(t *testing.T) {
	c := NewController(nil)

	snap := c.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("initial state = %q, want %q", snap.State, StateIdle)
	}
	if snap.File != nil || snap.Result != nil {
		t.Error("idle snapshot should carry no file or result")
	}
}

func TestController_SelectionRejection(t *testing.T) {
	script := newScriptedRunner()
	c := newTestController(script)

	c.SubmitFile(FileSelection{Name: "photo.png", Size: 123, RejectReason: "Only .xlsx files are accepted"})

	snap := c.Snapshot()
	if snap.State != StateErrored {
		t.Fatalf("state = %q, want %q", snap.State, StateErrored)
	}
	if snap.SelectionError != "Only .xlsx files are accepted" {
		t.Errorf("SelectionError = %q", snap.SelectionError)
	}
	if got := script.starts.Load(); got != 0 {
		t.Errorf("engine started %d times for rejected selection, want 0", got)
	}
}

func TestController_SuccessfulParse(t *testing.T) {
	script := newScriptedRunner()
	c := newTestController(script)

	c.SubmitFile(okSelection("inquiries.xlsx", 2048))

	if snap := c.Snapshot(); snap.State != StateParsing {
		t.Fatalf("state after submit = %q, want %q", snap.State, StateParsing)
	}
	if !c.IsBusy() {
		t.Error("IsBusy should be true while parsing")
	}

	msgs, _ := script.next(t)
	msgs <- engine.Message{Progress: &engine.Progress{Stage: engine.StageDecoding, Percent: 35}}
	msgs <- engine.Message{Result: successResult(7)}
	close(msgs)

	snap := waitForState(t, c, StateResolved)
	if snap.Result == nil || !snap.Result.Success {
		t.Fatal("resolved snapshot should carry the successful result")
	}
	if snap.Result.TotalRowCount != 7 {
		t.Errorf("TotalRowCount = %d, want 7", snap.Result.TotalRowCount)
	}
	if snap.File == nil || snap.File.Name != "inquiries.xlsx" {
		t.Errorf("snapshot file = %+v, want inquiries.xlsx", snap.File)
	}
	if c.IsBusy() {
		t.Error("IsBusy should be false once resolved")
	}
}

func TestController_FailureResultResolves(t *testing.T) {
	script := newScriptedRunner()
	c := newTestController(script)

	c.SubmitFile(okSelection("empty.xlsx", 100))

	msgs, _ := script.next(t)
	msgs <- engine.Message{Result: &engine.ParseResult{
		Err: &engine.ParseError{Category: engine.CategoryEmptyFile, Message: "no rows"},
	}}
	close(msgs)

	snap := waitForState(t, c, StateResolved)
	if snap.Result.Success {
		t.Error("failure result should not be successful")
	}
	if snap.Result.Err.Category != engine.CategoryEmptyFile {
		t.Errorf("category = %q, want %q", snap.Result.Err.Category, engine.CategoryEmptyFile)
	}
}

// ============================================================================
// Staleness and supersession
// ============================================================================

func TestController_SupersededResultDropped(t *testing.T) {
	script := newScriptedRunner()
	c := newTestController(script)

	// Start parsing file A, then replace it with file B before A finishes.
	c.SubmitFile(okSelection("a.xlsx", 100))
	msgsA, ctxA := script.next(t)

	c.SubmitFile(okSelection("b.xlsx", 200))
	msgsB, _ := script.next(t)

	if ctxA.Err() == nil {
		t.Error("superseded task context should be cancelled")
	}

	// A's straggler result must be discarded even though it arrives first.
	staleResult := successResult(999)
	msgsA <- engine.Message{Result: staleResult}
	close(msgsA)

	msgsB <- engine.Message{Result: successResult(3)}
	close(msgsB)

	snap := waitForState(t, c, StateResolved)
	if snap.File.Name != "b.xlsx" {
		t.Fatalf("resolved file = %q, want b.xlsx", snap.File.Name)
	}
	if snap.Result.TotalRowCount != 3 {
		t.Errorf("TotalRowCount = %d, want 3 (stale result leaked through)", snap.Result.TotalRowCount)
	}
}

func TestController_StaleProgressDropped(t *testing.T) {
	script := newScriptedRunner()
	c := newTestController(script)

	c.SubmitFile(okSelection("a.xlsx", 100))
	msgsA, _ := script.next(t)

	c.SubmitFile(okSelection("b.xlsx", 200))
	msgsB, _ := script.next(t)

	msgsA <- engine.Message{Progress: &engine.Progress{Stage: engine.StageReading, Percent: 99}}
	close(msgsA)

	msgsB <- engine.Message{Progress: &engine.Progress{Stage: engine.StageReading, Percent: 5}}

	// Wait until B's progress is visible, then confirm A's never was.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := c.Snapshot()
		if snap.Progress != nil {
			if snap.Progress.Percent != 5 {
				t.Fatalf("progress percent = %d, want 5", snap.Progress.Percent)
			}
			break
		}
		time.Sleep(time.Millisecond)
	}

	msgsB <- engine.Message{Result: successResult(1)}
	close(msgsB)
	waitForState(t, c, StateResolved)
}

// ============================================================================
// Timeout
// ============================================================================

func TestController_Timeout(t *testing.T) {
	script := newScriptedRunner()
	c := newTestController(script)
	c.timeout = 30 * time.Millisecond

	c.SubmitFile(okSelection("slow.xlsx", 100))
	msgs, ctx := script.next(t)

	snap := waitForState(t, c, StateResolved)
	if snap.Result == nil || snap.Result.Err == nil {
		t.Fatal("timeout should synthesize a failure result")
	}
	if snap.Result.Err.Category != engine.CategoryTimeout {
		t.Errorf("category = %q, want %q", snap.Result.Err.Category, engine.CategoryTimeout)
	}
	if snap.Result.ProcessingTimeMs != 30 {
		t.Errorf("ProcessingTimeMs = %v, want 30", snap.Result.ProcessingTimeMs)
	}
	if ctx.Err() == nil {
		t.Error("timed-out task context should be cancelled")
	}

	// A result arriving after the timeout is a straggler and must not
	// overwrite the synthesized timeout.
	msgs <- engine.Message{Result: successResult(42)}
	close(msgs)
	time.Sleep(20 * time.Millisecond)

	snap = c.Snapshot()
	if snap.Result.Err == nil || snap.Result.Err.Category != engine.CategoryTimeout {
		t.Error("late result overwrote the timeout result")
	}
}

func TestController_TimerDisarmedOnResult(t *testing.T) {
	script := newScriptedRunner()
	c := newTestController(script)
	c.timeout = 40 * time.Millisecond

	c.SubmitFile(okSelection("fast.xlsx", 100))
	msgs, _ := script.next(t)
	msgs <- engine.Message{Result: successResult(2)}
	close(msgs)

	waitForState(t, c, StateResolved)

	// Let the original deadline pass; the result must survive.
	time.Sleep(60 * time.Millisecond)
	snap := c.Snapshot()
	if snap.Result == nil || !snap.Result.Success {
		t.Error("timer fired after task already resolved")
	}
}

// ============================================================================
// Idempotent resubmission
// ============================================================================

func TestController_ResubmitSameFileNoOp(t *testing.T) {
	script := newScriptedRunner()
	c := newTestController(script)

	c.SubmitFile(okSelection("done.xlsx", 512))
	msgs, _ := script.next(t)
	msgs <- engine.Message{Result: successResult(4)}
	close(msgs)
	waitForState(t, c, StateResolved)

	// Same name and size: identity match, nothing restarts.
	c.SubmitFile(okSelection("done.xlsx", 512))

	if got := script.starts.Load(); got != 1 {
		t.Errorf("engine started %d times, want 1", got)
	}
	if snap := c.Snapshot(); snap.State != StateResolved || snap.Result.TotalRowCount != 4 {
		t.Error("resubmission of the same file disturbed the resolved state")
	}
}

func TestController_ResubmitDifferentFileReparses(t *testing.T) {
	script := newScriptedRunner()
	c := newTestController(script)

	c.SubmitFile(okSelection("one.xlsx", 512))
	msgs, _ := script.next(t)
	msgs <- engine.Message{Result: successResult(4)}
	close(msgs)
	waitForState(t, c, StateResolved)

	// Same name, different size: different identity, must reparse.
	c.SubmitFile(okSelection("one.xlsx", 1024))

	if got := script.starts.Load(); got != 2 {
		t.Fatalf("engine started %d times, want 2", got)
	}
	if snap := c.Snapshot(); snap.State != StateParsing {
		t.Errorf("state = %q, want %q", snap.State, StateParsing)
	}

	msgs2, _ := script.next(t)
	msgs2 <- engine.Message{Result: successResult(9)}
	close(msgs2)
	waitForState(t, c, StateResolved)
}

// ============================================================================
// Creation refusal via the limiter
// ============================================================================

func TestController_CreationFailureWhenLimiterFull(t *testing.T) {
	limiter := NewParseLimiter(1)
	if !limiter.TryAcquire() {
		t.Fatal("setup: could not occupy the only slot")
	}
	defer limiter.Release()

	script := newScriptedRunner()
	c := NewController(limiter)
	c.start = script.run

	c.SubmitFile(okSelection("busy.xlsx", 256))

	snap := c.Snapshot()
	if snap.State != StateResolved {
		t.Fatalf("state = %q, want %q", snap.State, StateResolved)
	}
	if snap.Result.Err == nil || snap.Result.Err.Category != engine.CategoryCreationFailure {
		t.Fatalf("result error = %+v, want creation failure", snap.Result.Err)
	}
	if got := script.starts.Load(); got != 0 {
		t.Errorf("engine started %d times despite refusal, want 0", got)
	}
}

func TestController_LimiterReleasedOnResolve(t *testing.T) {
	limiter := NewParseLimiter(1)
	script := newScriptedRunner()
	c := NewController(limiter)
	c.start = script.run

	c.SubmitFile(okSelection("first.xlsx", 256))
	if got := limiter.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d during parse, want 1", got)
	}

	msgs, _ := script.next(t)
	msgs <- engine.Message{Result: successResult(1)}
	close(msgs)
	waitForState(t, c, StateResolved)

	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d after resolve, want 0", got)
	}
}

func TestController_LimiterReleasedOnCancel(t *testing.T) {
	limiter := NewParseLimiter(1)
	script := newScriptedRunner()
	c := NewController(limiter)
	c.start = script.run

	c.SubmitFile(okSelection("first.xlsx", 256))
	c.Cancel()

	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d after cancel, want 0", got)
	}
}

// ============================================================================
// Cancellation
// ============================================================================

func TestController_CancelWhileParsing(t *testing.T) {
	script := newScriptedRunner()
	c := newTestController(script)

	c.SubmitFile(okSelection("doomed.xlsx", 256))
	msgs, ctx := script.next(t)

	c.Cancel()

	if ctx.Err() == nil {
		t.Error("cancel should kill the engine context")
	}
	snap := c.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("state = %q, want %q", snap.State, StateIdle)
	}
	if snap.File != nil || snap.Result != nil || snap.Progress != nil {
		t.Error("cancel should clear all slot data")
	}

	// A straggler after cancel must not resurrect anything.
	msgs <- engine.Message{Result: successResult(8)}
	close(msgs)
	time.Sleep(20 * time.Millisecond)
	if snap := c.Snapshot(); snap.State != StateIdle {
		t.Errorf("state after straggler = %q, want %q", snap.State, StateIdle)
	}
}

func TestController_CancelWhenIdle(t *testing.T) {
	c := NewController(nil)
	c.Cancel() // must not panic
	if snap := c.Snapshot(); snap.State != StateIdle {
		t.Errorf("state = %q, want %q", snap.State, StateIdle)
	}
}

// ============================================================================
// Progress subscription
// ============================================================================

func TestController_SubscribeReceivesProgressAndCloses(t *testing.T) {
	script := newScriptedRunner()
	c := newTestController(script)

	c.SubmitFile(okSelection("watched.xlsx", 256))
	msgs, _ := script.next(t)

	updates := c.Subscribe()

	msgs <- engine.Message{Progress: &engine.Progress{Stage: engine.StageReading, Percent: 5}}

	select {
	case p, ok := <-updates:
		if !ok {
			t.Fatal("subscription closed before any progress")
		}
		if p.Percent != 5 {
			t.Errorf("progress percent = %d, want 5", p.Percent)
		}
	case <-time.After(time.Second):
		t.Fatal("no progress received")
	}

	msgs <- engine.Message{Result: successResult(1)}
	close(msgs)

	// Channel must close once the task resolves.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after resolve")
		}
	}
}

func TestController_SubscribeWhenNotParsing(t *testing.T) {
	c := NewController(nil)

	updates := c.Subscribe()
	select {
	case _, ok := <-updates:
		if ok {
			t.Error("expected closed channel, got a value")
		}
	case <-time.After(time.Second):
		t.Error("channel from idle Subscribe should be closed immediately")
	}
}
