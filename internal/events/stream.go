package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"log/slog"
)

const connectedFrame = `{"event": "connected"}`

// StreamHandler serves one task's log as server-sent events: a connected
// frame, the replayed log, then live entries until the log is closed.
type StreamHandler struct {
	Hub       *Hub
	Logger    *slog.Logger
	Heartbeat time.Duration
}

func (s *StreamHandler) Serve(w http.ResponseWriter, r *http.Request, id int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"detail":"streaming not supported"}`, http.StatusInternalServerError)
		return
	}
	// The server's write timeout would cut long streams.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.Logger.Debug("clear write deadline", "err", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	replay, ch, unsubscribe := s.Hub.Subscribe(id)
	defer unsubscribe()

	fmt.Fprintf(w, "data: %s\n\n", connectedFrame)
	for _, e := range replay {
		writeEntry(w, e)
	}
	flusher.Flush()

	heartbeat := s.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeEntry(w, e)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

func writeEntry(w http.ResponseWriter, e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
