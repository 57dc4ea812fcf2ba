package security

import (
	"fmt"
	"sync"
	"time"
)

const trackerWindow = time.Hour

// RateLimitError is returned when a tool exceeds its hourly action budget.
type RateLimitError struct {
	Tool  string
	Limit int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: max %d actions/hour", e.Tool, e.Limit)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ActionTracker keeps a sliding one-hour window of action timestamps per tool.
type ActionTracker struct {
	mu      sync.Mutex
	max     int
	actions map[string][]time.Time
	now     func() time.Time
}

func NewActionTracker(maxPerHour int) *ActionTracker {
	return &ActionTracker{
		max:     maxPerHour,
		actions: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Track prunes expired entries and records a new action, or returns a
// *RateLimitError if the window is already full.
func (t *ActionTracker) Track(tool string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	q := t.prune(tool, now)
	if len(q) >= t.max {
		return &RateLimitError{Tool: tool, Limit: t.max}
	}
	t.actions[tool] = append(q, now)
	return nil
}

// Count returns the number of actions recorded for tool within the window.
func (t *ActionTracker) Count(tool string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prune(tool, t.now()))
}

func (t *ActionTracker) prune(tool string, now time.Time) []time.Time {
	q := t.actions[tool]
	cutoff := now.Add(-trackerWindow)
	i := 0
	for i < len(q) && !q[i].After(cutoff) {
		i++
	}
	if i > 0 {
		q = append(q[:0], q[i:]...)
		t.actions[tool] = q
	}
	return q
}
