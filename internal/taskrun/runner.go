package taskrun

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"agentdash/internal/logging"
	"agentdash/internal/preset"
)

// ErrBusy is returned when a task start is already in flight.
var ErrBusy = errors.New("a task is already starting")

// Runner launches a preset and follows its stream. Only one start may be in
// flight; a run that starts while another is streaming supersedes it.
type Runner struct {
	api      API
	launcher *Launcher
	consumer *Consumer
	logger   *slog.Logger

	starting atomic.Bool
}

func NewRunner(api API, launcher *Launcher, consumer *Consumer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{api: api, launcher: launcher, consumer: consumer, logger: logger}
}

// Starting reports whether a task start is in flight.
func (r *Runner) Starting() bool {
	return r.starting.Load()
}

// Run starts the preset and watches it to a terminal transition.
func (r *Runner) Run(ctx context.Context, presetID string, form preset.Form) (Launch, Task, error) {
	launch, err := r.Start(ctx, presetID, form)
	if err != nil {
		return Launch{}, Task{}, err
	}
	task, err := r.Watch(ctx, launch.ID)
	return launch, task, err
}

// Start launches the preset unless another start is in flight.
func (r *Runner) Start(ctx context.Context, presetID string, form preset.Form) (Launch, error) {
	if !r.starting.CompareAndSwap(false, true) {
		return Launch{}, ErrBusy
	}
	defer r.starting.Store(false)
	return r.launcher.Start(ctx, presetID, form)
}

// Watch follows id, superseding any stream this runner has open.
func (r *Runner) Watch(ctx context.Context, id TaskID) (Task, error) {
	task, err := r.consumer.Watch(ctx, id)
	if err != nil && !errors.Is(err, ErrClosed) {
		r.logger.Warn("task not confirmed", "task_id", id, "err", err)
	}
	return task, err
}

// Status fetches the task record once.
func (r *Runner) Status(ctx context.Context, id TaskID) (Task, error) {
	return fetchTask(ctx, r.api, id)
}

// Close tears down the active stream.
func (r *Runner) Close() {
	r.consumer.Close()
}
