package taskrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"agentdash/internal/isotime"
	"agentdash/internal/logging"
)

// DefaultFallbackTimeout bounds how long a stream stays open before the
// consumer closes it and fetches the task record. It runs from stream open
// whether or not entries are still arriving.
const DefaultFallbackTimeout = 30 * time.Second

var (
	// ErrUnconfirmed means the fallback fetch failed and the task was left in
	// its last observed state.
	ErrUnconfirmed = errors.New("task run could not be confirmed")
	// ErrClosed is returned by a watch that was torn down by Close or by a
	// newer Watch.
	ErrClosed = errors.New("watch closed")
)

// StreamError is a dropped or unopenable event stream. The consumer recovers
// from it with a fallback fetch.
type StreamError struct {
	TaskID TaskID
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("task %s stream: %v", e.TaskID, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateTerminal:
		return "terminal"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateTerminal},
	StateConnecting: {StateStreaming, StateTerminal},
	StateStreaming:  {StateTerminal},
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EndReason records why a stream stopped.
type EndReason string

const (
	EndCompleted EndReason = "stream ended"
	EndError     EndReason = "stream error"
	EndTimeout   EndReason = "fallback timeout"
)

// Hooks are the rendering callbacks. They run on the watching goroutine and
// must not block.
type Hooks struct {
	OnState   func(id TaskID, s State)
	OnEntry   func(id TaskID, e LogEntry)
	OnReplace func(t Task)
}

type ConsumerOption func(*Consumer)

func WithFallbackTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHooks(h Hooks) ConsumerOption {
	return func(c *Consumer) {
		c.hooks = h
	}
}

func WithConsumerLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = l
	}
}

func WithConsumerClock(now func() time.Time) ConsumerOption {
	return func(c *Consumer) {
		c.now = now
	}
}

// Consumer follows one task's event stream at a time.
type Consumer struct {
	api     API
	hooks   Hooks
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	active *watch
}

func NewConsumer(api API, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		api:     api,
		timeout: DefaultFallbackTimeout,
		logger:  logging.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type watch struct {
	c      *Consumer
	id     TaskID
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
	task  Task
}

// Watch tears down any previous watch, then follows id until a terminal
// transition. The returned task is the fallback record, or the last observed
// state together with ErrUnconfirmed when that fetch failed.
func (c *Consumer) Watch(ctx context.Context, id TaskID) (Task, error) {
	w := c.begin(ctx, id)
	defer c.finish(w)
	return w.run()
}

// Close tears down the active watch, if any, and waits for its stream to be
// closed.
func (c *Consumer) Close() {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()
	if prev != nil {
		prev.cancel(ErrClosed)
		<-prev.done
	}
}

// State reports the active watch's task and state; Idle when nothing is
// watched.
func (c *Consumer) State() (TaskID, State) {
	c.mu.Lock()
	w := c.active
	c.mu.Unlock()
	if w == nil {
		return "", StateIdle
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id, w.state
}

func (c *Consumer) begin(ctx context.Context, id TaskID) *watch {
	wctx, cancel := context.WithCancelCause(ctx)
	w := &watch{
		c:      c,
		id:     id,
		ctx:    wctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateIdle,
		task:   Task{ID: id, Status: StatusUnknown},
	}

	c.mu.Lock()
	prev := c.active
	c.active = w
	c.mu.Unlock()

	if prev != nil {
		c.logger.Debug("superseding watch", "task_id", prev.id, "next", id)
		prev.cancel(ErrClosed)
		<-prev.done
	}
	return w
}

func (c *Consumer) finish(w *watch) {
	w.cancel(nil)
	c.mu.Lock()
	if c.active == w {
		c.active = nil
	}
	c.mu.Unlock()
	close(w.done)
}

func (w *watch) to(next State) {
	w.mu.Lock()
	prev := w.state
	ok := CanTransition(prev, next)
	if ok {
		w.state = next
	}
	w.mu.Unlock()
	if !ok {
		w.c.logger.Error("invalid stream transition", "task_id", w.id, "from", prev, "to", next)
		return
	}
	if w.c.hooks.OnState != nil {
		w.c.hooks.OnState(w.id, next)
	}
}

func (w *watch) snapshot() Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := w.task
	t.Logs = append([]LogEntry(nil), w.task.Logs...)
	return t
}

// tornDown reports the cause when the watch was closed or its parent context
// ended.
func (w *watch) tornDown() error {
	if w.ctx.Err() == nil {
		return nil
	}
	return context.Cause(w.ctx)
}

func (w *watch) run() (Task, error) {
	log := w.c.logger.With("task_id", w.id)
	w.to(StateConnecting)

	streamCtx, stop := context.WithTimeout(w.ctx, w.c.timeout)
	defer stop()

	resp, err := w.c.api.OpenStream(streamCtx, streamPath(w.id))
	if err != nil {
		if cause := w.tornDown(); cause != nil {
			w.to(StateTerminal)
			return w.snapshot(), cause
		}
		reason := EndError
		if errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
			reason = EndTimeout
		}
		serr := &StreamError{TaskID: w.id, Err: err}
		log.Warn("stream open failed", "reason", reason, "err", serr)
		return w.fallback(reason, serr)
	}

	w.to(StateStreaming)
	reason, serr := w.consume(streamCtx, resp.Body)
	_ = resp.Body.Close()

	if cause := w.tornDown(); cause != nil {
		log.Debug("watch torn down", "cause", cause)
		w.to(StateTerminal)
		return w.snapshot(), cause
	}
	if serr != nil {
		log.Warn("stream dropped", "err", serr)
	} else {
		log.Debug("stream stopped", "reason", reason)
	}
	return w.fallback(reason, serr)
}

func (w *watch) consume(streamCtx context.Context, body io.Reader) (EndReason, error) {
	events := newEventReader(body)
	for {
		data, err := events.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return EndCompleted, nil
			case errors.Is(streamCtx.Err(), context.DeadlineExceeded):
				return EndTimeout, nil
			default:
				return EndError, &StreamError{TaskID: w.id, Err: err}
			}
		}
		entry := parseEntry(data, w.c.now)
		w.mu.Lock()
		w.task.Logs = append(w.task.Logs, entry)
		w.mu.Unlock()
		if w.c.hooks.OnEntry != nil {
			w.c.hooks.OnEntry(w.id, entry)
		}
	}
}

// fallback performs the single status fetch that ends every watch that was
// not torn down.
func (w *watch) fallback(reason EndReason, cause error) (Task, error) {
	task, err := fetchTask(w.ctx, w.c.api, w.id)
	if err != nil {
		if down := w.tornDown(); down != nil {
			w.to(StateTerminal)
			return w.snapshot(), down
		}
		w.c.logger.Warn("fallback fetch failed", "task_id", w.id, "reason", reason, "err", err)
		w.mu.Lock()
		if w.task.Status.Active() {
			w.task.Status = StatusUnknown
		}
		w.mu.Unlock()
		w.to(StateTerminal)
		if cause != nil {
			return w.snapshot(), fmt.Errorf("%w (%v): %w", ErrUnconfirmed, cause, err)
		}
		return w.snapshot(), fmt.Errorf("%w: %w", ErrUnconfirmed, err)
	}

	w.mu.Lock()
	w.task = task
	w.mu.Unlock()
	if w.c.hooks.OnReplace != nil {
		w.c.hooks.OnReplace(w.snapshot())
	}
	w.to(StateTerminal)
	return w.snapshot(), nil
}

func parseEntry(data string, now func() time.Time) LogEntry {
	var e LogEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil || e.Event == "" {
		return LogEntry{Event: data, Timestamp: isotime.Time{Time: now().UTC()}}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = isotime.Time{Time: now().UTC()}
	}
	return e
}
