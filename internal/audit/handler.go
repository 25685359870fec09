package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"log/slog"
)

// QueryHandler lists recent entries. Authorization is left to middleware.
type QueryHandler struct {
	Store  *Store
	Logger *slog.Logger
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{ActionPrefix: q.Get("action")}
	if uidStr := q.Get("user_id"); uidStr != "" {
		if uid, err := strconv.ParseInt(uidStr, 10, 64); err == nil {
			filter.UserID = &uid
		}
	}
	filter.GuestsOnly = q.Get("guests") == "true"
	if sinceStr := q.Get("since"); sinceStr != "" {
		if t, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = t
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = l
		}
	}

	entries, err := h.Store.List(r.Context(), filter)
	if err != nil {
		h.Logger.Error("list audit entries", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}
