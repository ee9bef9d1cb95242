// Package ingest coordinates the lifecycle of spreadsheet parse tasks.
//
// A Controller owns one upload slot: at most one live parse task at a
// time, a fixed wall-clock timeout per task, hard cancellation when a task
// is replaced or the slot is cleared, and rejection of results that arrive
// after their task was superseded. The Manager tracks many slots and
// expires idle ones.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campaign-tools/inquiry-ingest/internal/engine"
	"github.com/campaign-tools/inquiry-ingest/internal/schema"
)

// TaskTimeout is the fixed per-task deadline. It is armed when a task
// starts, disarmed on terminal result or cancellation, and never renewed.
const TaskTimeout = 5 * time.Second

// runner starts an engine for one file and returns its message stream.
// Indirection exists so tests can substitute a scripted engine.
type runner func(ctx context.Context, fileName string, payload []byte) <-chan engine.Message

func engineRunner(ctx context.Context, fileName string, payload []byte) <-chan engine.Message {
	return engine.New(fileName, payload).Run(ctx)
}

// task binds one parse attempt to one engine instance. The generation
// number is the task handle: any message whose task carries a stale
// generation is discarded regardless of arrival order.
type task struct {
	gen     uint64
	cancel  context.CancelFunc
	timer   *time.Timer
	release func()
}

func (t *task) teardown() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.cancel()
	t.release()
}

// Controller manages exactly one parse task at a time for one caller.
// All state lives behind the mutex; the controller is the sole writer.
type Controller struct {
	limiter *ParseLimiter
	timeout time.Duration
	start   runner

	mu           sync.Mutex
	state        State
	gen          uint64
	file         FileID
	selectionErr string
	result       *engine.ParseResult
	progress     *engine.Progress
	task         *task
	listeners    []chan engine.Progress
}

// NewController creates an idle controller. limiter may be nil, in which
// case engine starts are never refused for capacity.
func NewController(limiter *ParseLimiter) *Controller {
	return &Controller{
		limiter: limiter,
		timeout: TaskTimeout,
		start:   engineRunner,
		state:   StateIdle,
	}
}

// SubmitFile accepts a file selection and starts (or refuses) a parse
// task per the slot state machine. It returns immediately; completion is
// observed via Snapshot or Subscribe.
//
// Resubmitting the identical file identity while already Resolved for it
// is a no-op. Submitting any other file while Parsing supersedes the
// in-flight task: its engine is hard-cancelled and nothing it emits
// afterwards is honored.
func (c *Controller) SubmitFile(sel FileSelection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sel.RejectReason != "" {
		c.teardownLocked()
		c.state = StateErrored
		c.file = sel.ID()
		c.selectionErr = sel.RejectReason
		c.result, c.progress = nil, nil
		return
	}

	if c.state == StateResolved && c.file == sel.ID() {
		return
	}

	c.teardownLocked()
	c.gen++
	gen := c.gen
	c.file = sel.ID()
	c.selectionErr = ""
	c.result, c.progress = nil, nil

	release := func() {}
	if c.limiter != nil {
		if !c.limiter.TryAcquire() {
			c.state = StateResolved
			c.result = synthesize(engine.CategoryCreationFailure,
				"no parser worker slot available", sel.Size)
			return
		}
		var once sync.Once
		release = func() { once.Do(c.limiter.Release) }
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{gen: gen, cancel: cancel, release: release}
	t.timer = time.AfterFunc(c.timeout, func() { c.expire(gen) })
	c.task = t
	c.state = StateParsing

	msgs := c.start(ctx, sel.Name, sel.Payload)
	go c.pump(t, msgs)
}

// Cancel clears the slot from any state: the engine and timer are torn
// down unconditionally, any held result is discarded, and the slot
// returns to Idle. Safe to call when already Idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()
	c.state = StateIdle
	c.file = FileID{}
	c.selectionErr = ""
	c.result, c.progress = nil, nil
}

// IsBusy reports whether a parse task is in flight. Callers use it to
// gate submission actions and to defer user-initiated close.
func (c *Controller) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateParsing
}

// Snapshot is the caller-visible view of the slot.
type Snapshot struct {
	State          State               `json:"state"`
	File           *FileID             `json:"file,omitempty"`
	SelectionError string              `json:"selectionError,omitempty"`
	Result         *engine.ParseResult `json:"result,omitempty"`
	Progress       *engine.Progress    `json:"progress,omitempty"`
}

// Snapshot returns the current state plus, when Resolved, the parse
// result, and when Errored, the selection-level message. The result is
// never mutated after being exposed here.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{State: c.state}
	if c.file != (FileID{}) {
		f := c.file
		snap.File = &f
	}
	switch c.state {
	case StateErrored:
		snap.SelectionError = c.selectionErr
	case StateResolved:
		snap.Result = c.result
	case StateParsing:
		snap.Progress = c.progress
	}
	return snap
}

// Subscribe returns a channel receiving advisory progress updates for the
// current task. The channel is closed when the task reaches a terminal
// state or the slot is cleared. Subscribing while no task is in flight
// returns an already-closed channel.
func (c *Controller) Subscribe() <-chan engine.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan engine.Progress, 10)
	if c.state != StateParsing {
		close(ch)
		return ch
	}
	c.listeners = append(c.listeners, ch)
	if c.progress != nil {
		ch <- *c.progress
	}
	return ch
}

// pump forwards one task's messages into the controller. It runs until
// the engine closes its stream; stale deliveries are dropped inside
// deliver, so a superseded pump drains harmlessly.
func (c *Controller) pump(t *task, msgs <-chan engine.Message) {
	for msg := range msgs {
		c.deliver(t, msg)
	}
}

// deliver applies one engine message under the lock. The generation check
// happens here, at the point of receipt, so a message racing a
// cancellation in the same instant is still rejected.
func (c *Controller) deliver(t *task, msg engine.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.gen != c.gen || c.task == nil {
		// Straggler from a superseded task. Teardown is idempotent, so
		// running it again here is safe.
		t.teardown()
		return
	}

	switch {
	case msg.Progress != nil:
		c.progress = msg.Progress
		c.notifyLocked(*msg.Progress)
	case msg.Result != nil:
		t.teardown()
		c.task = nil
		c.result = msg.Result
		c.state = StateResolved
		c.closeListenersLocked()
	}
}

// expire fires when the task timer lapses. It only acts if the matching
// task is still live; a timer racing a terminal result loses.
func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateParsing || gen != c.gen || c.task == nil {
		return
	}

	c.task.teardown()
	c.task = nil
	c.state = StateResolved
	c.result = synthesize(engine.CategoryTimeout,
		fmt.Sprintf("no terminal result within %s", c.timeout), c.file.Size)
	c.result.ProcessingTimeMs = float64(c.timeout.Milliseconds())
	c.closeListenersLocked()
}

func (c *Controller) teardownLocked() {
	if c.task != nil {
		c.task.teardown()
		c.task = nil
	}
	c.closeListenersLocked()
}

func (c *Controller) notifyLocked(p engine.Progress) {
	for _, ch := range c.listeners {
		select {
		case ch <- p:
		default:
			// Slow listener, skip this update.
		}
	}
}

func (c *Controller) closeListenersLocked() {
	for _, ch := range c.listeners {
		close(ch)
	}
	c.listeners = nil
}

// synthesize builds a failure result for conditions the controller itself
// detects (timeout, engine creation refusal). It carries the same shape
// as an engine result so callers handle both uniformly.
func synthesize(cat engine.Category, msg string, size int64) *engine.ParseResult {
	return &engine.ParseResult{
		Err:         &engine.ParseError{Category: cat, Message: msg},
		FileSize:    size,
		IsLargeFile: size > schema.LargeFileThreshold,
	}
}
