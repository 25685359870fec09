package jobs

import (
	"time"

	"agentdash/internal/events"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is the record served by GET /tasks/{id}. Output holds the model
// response once completed and the failure text once failed.
type Task struct {
	ID        int64             `json:"id"`
	Type      string            `json:"type"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	Context   map[string]string `json:"context"`
	Output    *string           `json:"output"`
	Logs      []events.Entry    `json:"logs"`
}

type runResponse struct {
	TaskID int64  `json:"task_id"`
	Status string `json:"status"`
}
