package audit

import (
	"context"
	"sync"
	"time"
)

// GuestLimiter caps the task actions anonymous callers may record per window.
type GuestLimiter struct {
	Store  *Store
	Prefix string
	Max    int
	Window time.Duration

	// mu serializes admissions so the count and the insert act as one step.
	mu sync.Mutex
}

func NewGuestLimiter(store *Store, max int) *GuestLimiter {
	return &GuestLimiter{Store: store, Prefix: "TASK_", Max: max, Window: time.Minute}
}

// Allow reports whether another guest action fits in the current window.
func (l *GuestLimiter) Allow(ctx context.Context) (bool, error) {
	if l.Max <= 0 {
		return true, nil
	}
	n, err := l.Store.Count(ctx, Filter{
		GuestsOnly:   true,
		ActionPrefix: l.Prefix,
		Since:        l.Store.now().Add(-l.Window),
	})
	if err != nil {
		return false, err
	}
	return n < l.Max, nil
}

// Admit records action as a guest entry when it fits in the window. Nothing
// is recorded for a rejected action.
func (l *GuestLimiter) Admit(ctx context.Context, action string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, err := l.Allow(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := l.Store.Record(ctx, nil, action); err != nil {
		return false, err
	}
	return true, nil
}
