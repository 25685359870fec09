package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

const previewLen = 200

// Dispatcher runs tasks in the background, one goroutine per task.
type Dispatcher struct {
	Registry *Registry
	Executor Executor
	Logger   *slog.Logger
	Timeout  time.Duration
	// Repo, when set, supplies repository context for routes that fetch it.
	Repo RepoSource

	routes map[string]Route
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(reg *Registry, exec Executor, routes []Route, logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		Registry: reg,
		Executor: exec,
		Logger:   logger,
		Timeout:  2 * time.Minute,
		routes:   make(map[string]Route, len(routes)),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, r := range routes {
		d.routes[r.Preset] = r
	}
	return d
}

// Run registers a task and starts it. The returned snapshot is pending.
func (d *Dispatcher) Run(preset string, input map[string]string) Task {
	task := d.Registry.Create(preset, input)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(task.ID, preset, input)
	}()
	return task
}

func (d *Dispatcher) execute(id int64, preset string, input map[string]string) {
	reg := d.Registry
	defer reg.Finish(id)
	reg.SetRunning(id)

	route, known := d.routes[preset]
	if !known {
		reg.Log(id, fmt.Sprintf("⚠️ Unknown preset: %s", preset))
		route = Route{Preset: preset, System: fallbackSystem}
	} else if note := route.note(input); note != "" {
		reg.Log(id, note)
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.Timeout)
	defer cancel()

	start := time.Now()
	out, err := d.complete(ctx, id, route, input)
	if err != nil {
		detail := fmt.Sprintf("Task failed: %v", err)
		reg.Log(id, "❌ "+detail)
		reg.Fail(id, detail)
		d.Logger.Warn("task failed", "task_id", id, "preset", preset, "err", err)
		return
	}
	reg.Log(id, "✅ Response: "+preview(out))
	reg.Complete(id, out)
	d.Logger.Info("task completed", "task_id", id, "preset", preset, "duration", time.Since(start))
}

func (d *Dispatcher) complete(ctx context.Context, id int64, route Route, input map[string]string) (string, error) {
	user := userPrompt(input)
	if route.Fetch != "" && d.Repo != nil {
		repoContext, err := d.fetch(ctx, route.Fetch, input)
		if err != nil {
			return "", err
		}
		user = repoContext + "\n\n" + user
	}
	d.Registry.Log(id, fmt.Sprintf("📡 Sending request to %s...", d.Executor.Name()))
	return d.Executor.Complete(ctx, Prompt{System: route.System, User: user})
}

func (d *Dispatcher) fetch(ctx context.Context, kind string, input map[string]string) (string, error) {
	switch kind {
	case fetchTree:
		return d.Repo.Tree(ctx, input["repo"])
	case fetchFile:
		return d.Repo.File(ctx, input["repo"], input["path"])
	}
	return "", fmt.Errorf("unknown repository fetch %q", kind)
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLen {
		return s
	}
	r := []rune(s)
	return string(r[:previewLen]) + "..."
}

// Close cancels running tasks and waits for them to finish.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
