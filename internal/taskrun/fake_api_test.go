package taskrun

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"agentdash/internal/session"
)

// fakeAPI stands in for the session client. Each OpenStream creates a pipe
// whose writer is handed to the test through writers.
type fakeAPI struct {
	mu sync.Mutex

	user    *session.User
	userErr error

	runErr    error
	runID     any
	runCalls  []session.Request
	userCalls int
	block     chan struct{}

	openErr   error
	opened    int
	open      int
	maxOpen   int
	writers   chan *io.PipeWriter
	fetches   int
	fetch     func(id string) (map[string]any, error)
	fetchPath []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		user:    &session.User{ID: 1, Email: "m@example.com", Role: session.RoleMember, Status: session.StatusApproved},
		runID:   1,
		writers: make(chan *io.PipeWriter, 8),
	}
}

func (f *fakeAPI) CurrentUser(ctx context.Context) (*session.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	if f.userErr != nil {
		return nil, f.userErr
	}
	u := *f.user
	return &u, nil
}

func (f *fakeAPI) DoJSON(ctx context.Context, req session.Request, out any) error {
	var payload any
	switch {
	case strings.HasPrefix(req.Path, "/tasks/run/"):
		f.mu.Lock()
		f.runCalls = append(f.runCalls, req)
		block, runErr, id := f.block, f.runErr, f.runID
		f.mu.Unlock()
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if runErr != nil {
			return runErr
		}
		payload = map[string]any{"task_id": id, "status": "started"}
	case strings.HasPrefix(req.Path, "/tasks/"):
		f.mu.Lock()
		f.fetches++
		f.fetchPath = append(f.fetchPath, req.Path)
		fetch := f.fetch
		f.mu.Unlock()
		if fetch == nil {
			return fmt.Errorf("no task record")
		}
		rec, err := fetch(strings.TrimPrefix(req.Path, "/tasks/"))
		if err != nil {
			return err
		}
		payload = rec
	default:
		return &session.HTTPError{StatusCode: http.StatusNotFound, Detail: "Not Found"}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (f *fakeAPI) OpenStream(ctx context.Context, path string) (*http.Response, error) {
	f.mu.Lock()
	openErr := f.openErr
	if openErr == nil {
		f.opened++
		f.open++
		if f.open > f.maxOpen {
			f.maxOpen = f.open
		}
	}
	f.mu.Unlock()
	if openErr != nil {
		return nil, openErr
	}

	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		_ = pr.CloseWithError(ctx.Err())
	}()
	f.writers <- pw
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       &countingBody{ReadCloser: pr, f: f},
	}, nil
}

func (f *fakeAPI) counts() (fetches, opened, open, maxOpen int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.opened, f.open, f.maxOpen
}

func (f *fakeAPI) runs() []session.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Request(nil), f.runCalls...)
}

type countingBody struct {
	io.ReadCloser
	f    *fakeAPI
	once sync.Once
}

func (b *countingBody) Close() error {
	b.once.Do(func() {
		b.f.mu.Lock()
		b.f.open--
		b.f.mu.Unlock()
	})
	return b.ReadCloser.Close()
}

func completedRecord(id string, events ...string) map[string]any {
	logs := make([]map[string]string, 0, len(events))
	for _, e := range events {
		logs = append(logs, map[string]string{"event": e, "timestamp": "2024-01-15T10:30:00.5"})
	}
	return map[string]any{
		"id":     id,
		"type":   "plan",
		"status": "completed",
		"logs":   logs,
		"output": "final answer",
	}
}

func frame(event string) string {
	return fmt.Sprintf("data: {\"event\":%q,\"timestamp\":\"2024-01-15T10:29:00\"}\n\n", event)
}

// recorder collects hook calls in order.
type recorder struct {
	mu       sync.Mutex
	states   []string
	entries  []LogEntry
	replaced []Task
	onState  func(TaskID, State)
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnState: func(id TaskID, s State) {
			r.mu.Lock()
			r.states = append(r.states, string(id)+":"+s.String())
			fn := r.onState
			r.mu.Unlock()
			if fn != nil {
				fn(id, s)
			}
		},
		OnEntry: func(id TaskID, e LogEntry) {
			r.mu.Lock()
			r.entries = append(r.entries, e)
			r.mu.Unlock()
		},
		OnReplace: func(t Task) {
			r.mu.Lock()
			r.replaced = append(r.replaced, t)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) stateLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func (r *recorder) entryLog() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.entries...)
}
