package jobs

import (
	"sync"
	"time"

	"agentdash/internal/events"
)

// Registry keeps tasks in memory with auto-incrementing ids. Logs live in
// the hub so streams and fetches read the same entries.
type Registry struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]*Task
	hub    *events.Hub
	now    func() time.Time
}

func NewRegistry(hub *events.Hub) *Registry {
	return &Registry{nextID: 1, tasks: make(map[int64]*Task), hub: hub, now: time.Now}
}

func (r *Registry) Hub() *events.Hub {
	return r.hub
}

func (r *Registry) Create(preset string, input map[string]string) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &Task{
		ID:        r.nextID,
		Type:      preset,
		Status:    StatusPending,
		CreatedAt: r.now().UTC(),
		Context:   input,
	}
	r.nextID++
	r.tasks[t.ID] = t
	return r.snapshot(t)
}

func (r *Registry) snapshot(t *Task) Task {
	cp := *t
	if t.Output != nil {
		out := *t.Output
		cp.Output = &out
	}
	cp.Context = make(map[string]string, len(t.Context))
	for k, v := range t.Context {
		cp.Context[k] = v
	}
	cp.Logs = r.hub.Entries(t.ID)
	return cp
}

func (r *Registry) Get(id int64) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return r.snapshot(t), true
}

func (r *Registry) Exists(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	return ok
}

// Log appends an entry to the task's log.
func (r *Registry) Log(id int64, event string) {
	r.hub.Append(id, event)
}

func (r *Registry) SetRunning(id int64) {
	r.setStatus(id, StatusRunning, nil)
}

func (r *Registry) Complete(id int64, output string) {
	r.setStatus(id, StatusCompleted, &output)
}

func (r *Registry) Fail(id int64, detail string) {
	r.setStatus(id, StatusFailed, &detail)
}

func (r *Registry) setStatus(id int64, status Status, output *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return
	}
	t.Status = status
	if output != nil {
		t.Output = output
	}
}

// Finish ends the task's streams. The status must already be terminal so a
// client fetching after its stream ends sees the final record.
func (r *Registry) Finish(id int64) {
	r.hub.Close(id)
}
