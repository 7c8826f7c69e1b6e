package api

import (
	"sync"
	"time"

	"triggerd/internal/eventbus"
	"triggerd/internal/trigger"
)

// RunLog is a bounded ring of run lifecycle events, fed from the event
// bus and served on /v1/runs. Unlike the engine's history it also keeps
// skipped firings, which never become runs.
type RunLog struct {
	mu    sync.Mutex
	max   int
	items []RunLogEntry
}

type RunLogEntry struct {
	Type           string        `json:"type"`
	At             time.Time     `json:"at"`
	RunID          string        `json:"run_id"`
	WorkflowID     string        `json:"workflow_id"`
	OrganizationID string        `json:"organization_id"`
	Title          string        `json:"title,omitempty"`
	Duration       time.Duration `json:"duration,omitempty"`
	Error          string        `json:"error,omitempty"`
}

func NewRunLog(max int) *RunLog {
	if max <= 0 {
		max = 200
	}
	return &RunLog{max: max}
}

// Record appends a bus event; non-run events are ignored.
func (l *RunLog) Record(ev eventbus.Event) {
	re, ok := ev.Data.(trigger.RunEvent)
	if !ok {
		return
	}
	entry := RunLogEntry{
		Type:           ev.Type,
		At:             ev.Time,
		RunID:          re.RunID,
		WorkflowID:     re.WorkflowID,
		OrganizationID: re.OrganizationID,
		Title:          re.Title,
		Duration:       re.Duration,
		Error:          re.Error,
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, entry)
	if len(l.items) > l.max {
		l.items = l.items[len(l.items)-l.max:]
	}
}

// List returns newest-first entries.
func (l *RunLog) List() []RunLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RunLogEntry, len(l.items))
	for i, it := range l.items {
		out[len(l.items)-1-i] = it
	}
	return out
}
