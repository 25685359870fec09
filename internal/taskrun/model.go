package taskrun

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"agentdash/internal/isotime"
)

// TaskID is the backend-assigned task identifier. The wire carries either a
// number or a string.
type TaskID string

func (id *TaskID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = TaskID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("task id %s: not an integer", n)
	}
	*id = TaskID(n.String())
	return nil
}

type Status string

// StatusUnknown marks a task whose state the client has not observed.
const (
	StatusUnknown   Status = ""
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether the task is still queued or running.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

type LogEntry struct {
	Event     string       `json:"event"`
	Timestamp isotime.Time `json:"timestamp"`
}

// Task is the client's projection of a backend task. Output is set only for
// completed tasks; the text a failed task reports is kept in Failure.
type Task struct {
	ID        TaskID
	Type      string
	Status    Status
	Logs      []LogEntry
	Output    string
	Failure   string
	CreatedAt isotime.Time
}

type taskRecord struct {
	ID        TaskID       `json:"id"`
	Type      string       `json:"type"`
	Status    Status       `json:"status"`
	Logs      []LogEntry   `json:"logs"`
	Output    *string      `json:"output"`
	CreatedAt isotime.Time `json:"created_at"`
}

func (r taskRecord) project() Task {
	t := Task{
		ID:        r.ID,
		Type:      r.Type,
		Status:    r.Status,
		Logs:      append([]LogEntry(nil), r.Logs...),
		CreatedAt: r.CreatedAt,
	}
	if r.Output != nil {
		switch r.Status {
		case StatusCompleted:
			t.Output = *r.Output
		case StatusFailed:
			t.Failure = *r.Output
		}
	}
	return t
}

type runRequest struct {
	Context map[string]string `json:"context"`
}

type runResponse struct {
	TaskID TaskID `json:"task_id"`
	Status string `json:"status"`
}
