// Package events keeps each task's log and fans new entries out to
// stream subscribers.
package events

import (
	"sync"
	"time"
)

// Entry is one log line as served to clients.
type Entry struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

const subscriberBuffer = 256

type taskLog struct {
	entries []Entry
	subs    map[chan Entry]struct{}
	closed  bool
}

// Hub is an in-memory pub/sub of task logs keyed by task id. A subscriber
// sees every entry recorded so far followed by live entries, with no gap
// or duplicate between the two.
type Hub struct {
	mu   sync.Mutex
	logs map[int64]*taskLog
	now  func() time.Time
}

func NewHub() *Hub {
	return &Hub{logs: make(map[int64]*taskLog), now: time.Now}
}

func (h *Hub) log(id int64) *taskLog {
	l, ok := h.logs[id]
	if !ok {
		l = &taskLog{subs: make(map[chan Entry]struct{})}
		h.logs[id] = l
	}
	return l
}

// Append records an entry and publishes it. Appends after Close are dropped.
func (h *Hub) Append(id int64, event string) Entry {
	e := Entry{Event: event, Timestamp: h.now().UTC()}
	h.mu.Lock()
	defer h.mu.Unlock()
	l := h.log(id)
	if l.closed {
		return e
	}
	l.entries = append(l.entries, e)
	for ch := range l.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber; it recovers the entry from the task record.
		}
	}
	return e
}

// Entries returns a copy of the log recorded for id.
func (h *Hub) Entries(id int64) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.logs[id]
	if !ok {
		return []Entry{}
	}
	return append([]Entry{}, l.entries...)
}

// Subscribe returns the entries so far and a channel of later ones. The
// channel is closed when the log is closed; for a closed log it is
// returned already closed.
func (h *Hub) Subscribe(id int64) ([]Entry, <-chan Entry, func()) {
	ch := make(chan Entry, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	l := h.log(id)
	replay := append([]Entry{}, l.entries...)
	if l.closed {
		close(ch)
		return replay, ch, func() {}
	}
	l.subs[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := l.subs[ch]; ok {
			delete(l.subs, ch)
			close(ch)
		}
	}
	return replay, ch, unsubscribe
}

// Close ends every stream of id.
func (h *Hub) Close(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l := h.log(id)
	if l.closed {
		return
	}
	l.closed = true
	for ch := range l.subs {
		delete(l.subs, ch)
		close(ch)
	}
}

// Subscribers reports how many streams are attached to id.
func (h *Hub) Subscribers(id int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.logs[id]; ok {
		return len(l.subs)
	}
	return 0
}
