package taskrun

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"agentdash/internal/logging"
	"agentdash/internal/preset"
	"agentdash/internal/session"
)

// API is the slice of the session client the task components call.
type API interface {
	CurrentUser(ctx context.Context) (*session.User, error)
	DoJSON(ctx context.Context, req session.Request, out any) error
	OpenStream(ctx context.Context, path string) (*http.Response, error)
}

type Launch struct {
	ID     TaskID
	Preset string
	// Demo is set when the account runs in the restricted pending-approval
	// capacity.
	Demo bool
}

type Launcher struct {
	api     API
	catalog *preset.Catalog
	logger  *slog.Logger
}

func NewLauncher(api API, catalog *preset.Catalog, logger *slog.Logger) *Launcher {
	if catalog == nil {
		catalog = preset.NewCatalog(preset.Defaults())
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Launcher{api: api, catalog: catalog, logger: logger}
}

// Start validates the form, checks the session and asks the backend to run
// the preset. Validation failures never reach the network.
func (l *Launcher) Start(ctx context.Context, presetID string, form preset.Form) (Launch, error) {
	p, err := l.catalog.Validate(presetID, form)
	if err != nil {
		return Launch{}, err
	}

	user, err := l.api.CurrentUser(ctx)
	if err != nil {
		return Launch{}, err
	}
	if user.Role == session.RoleGuest && !user.Demo() {
		return Launch{}, session.ErrAuthRequired
	}

	var out runResponse
	err = l.api.DoJSON(ctx, session.Request{
		Method: http.MethodPost,
		Path:   "/tasks/run/" + url.PathEscape(p.ID),
		Body:   runRequest{Context: p.Context(form)},
	}, &out)
	if err != nil {
		return Launch{}, err
	}
	if out.TaskID == "" {
		return Launch{}, fmt.Errorf("run %s: backend returned no task_id", p.ID)
	}

	l.logger.Info("task started", "task_id", out.TaskID, "preset", p.ID, "demo", user.Demo())
	return Launch{ID: out.TaskID, Preset: p.ID, Demo: user.Demo()}, nil
}

func taskPath(id TaskID) string {
	return "/tasks/" + url.PathEscape(string(id))
}

func streamPath(id TaskID) string {
	return taskPath(id) + "/stream"
}

func fetchTask(ctx context.Context, api API, id TaskID) (Task, error) {
	var rec taskRecord
	if err := api.DoJSON(ctx, session.Request{Method: http.MethodGet, Path: taskPath(id)}, &rec); err != nil {
		return Task{}, err
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return rec.project(), nil
}
