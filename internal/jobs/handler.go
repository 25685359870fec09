package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"log/slog"

	"agentdash/internal/auth"
	"agentdash/internal/events"
)

func guestLimitDetail(rate int) string {
	return fmt.Sprintf("Guest rate limit exceeded (%d tasks/min)", rate)
}

// Limiter gates anonymous task starts. Admit records the action when it
// lets it through.
type Limiter interface {
	Admit(ctx context.Context, action string) (bool, error)
}

type Handler struct {
	Dispatcher *Dispatcher
	Stream     *events.StreamHandler
	Limiter    Limiter
	GuestRate  int
	Audit      auth.Auditor
	Logger     *slog.Logger
}

// decodeContext accepts {"context": {...}} or a bare object of fields.
func decodeContext(r *http.Request) (map[string]string, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(data) == 0 {
		return map[string]string{}, err
	}
	var wrapped struct {
		Context map[string]string `json:"context"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Context != nil {
		return wrapped.Context, nil
	}
	bare := map[string]string{}
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, err
	}
	return bare, nil
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	preset := r.PathValue("preset")
	input, err := decodeContext(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "context must be an object of strings")
		return
	}

	action := "TASK_RUN " + preset
	user, signedIn := auth.UserFromContext(r.Context())
	switch {
	case !signedIn && h.Limiter != nil:
		ok, err := h.Limiter.Admit(r.Context(), action)
		if err != nil {
			h.Logger.Error("guest limit", "err", err)
			writeDetail(w, http.StatusInternalServerError, "rate limit check failed")
			return
		}
		if !ok {
			writeDetail(w, http.StatusTooManyRequests, guestLimitDetail(h.GuestRate))
			return
		}
	case h.Audit != nil:
		var userID *int64
		if signedIn {
			userID = &user.ID
		}
		if err := h.Audit.Record(r.Context(), userID, action); err != nil {
			h.Logger.Error("audit task run", "err", err)
		}
	}

	task := h.Dispatcher.Run(preset, input)
	h.Logger.Info("task started", "task_id", task.ID, "preset", preset, "guest", !signedIn)
	writeJSON(w, http.StatusOK, runResponse{TaskID: task.ID, Status: "started"})
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid task id")
		return 0, false
	}
	return id, true
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, ok := h.Dispatcher.Registry.Get(id)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if !h.Dispatcher.Registry.Exists(id) {
		writeDetail(w, http.StatusNotFound, "Task not found")
		return
	}
	h.Stream.Serve(w, r, id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
