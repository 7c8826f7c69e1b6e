package trigger

import (
	"context"
	"time"

	"triggerd/internal/store"
)

// Config controls the trigger engine.
type Config struct {
	Enabled bool

	// PollInterval is both the wake-up period of the poll loop and the
	// due window of the evaluator (default 60s). Keeping them tied means
	// changing the interval can neither double-fire nor miss a firing.
	PollInterval time.Duration

	// DefaultTimezone applies to workflows without an explicit zone
	// (IANA name, default "UTC").
	DefaultTimezone string

	// HistorySize caps the in-memory run history ring (default 200).
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = "UTC"
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// WorkflowSource is the slice of the store the engine polls.
// Listing staleness up to one poll interval is acceptable.
type WorkflowSource interface {
	ListCronEnabled(ctx context.Context) ([]store.Workflow, error)
}

// Executor launches one triggered workflow run. It may fail; failures
// are the executor's to classify, the engine only logs and deregisters.
// It must honor ctx cancellation during shutdown.
type Executor interface {
	ExecuteWorkflow(ctx context.Context, wf store.Workflow, run RunContext) error
}

// RunContext identifies one triggered instance.
type RunContext struct {
	RunID       string
	ScheduledAt time.Time // the firing slot that admitted this run
}

// Verdict is the outcome of one due evaluation. The skip path is a
// normal branch, not an exception: invalid config fails closed.
type Verdict int

const (
	VerdictNotDue Verdict = iota
	VerdictDue
	VerdictInvalid
)

// Decision is ephemeral; recomputed every poll, never persisted.
type Decision struct {
	Verdict     Verdict
	FiredAt     time.Time // due only: the admitted firing slot
	EvaluatedAt time.Time
	Err         error // invalid only
}

// RunInfo describes one outstanding run.
type RunInfo struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	Started    time.Time `json:"started"`
}

// HistoryItem records one completed run in the in-memory ring.
type HistoryItem struct {
	RunID          string        `json:"run_id"`
	WorkflowID     string        `json:"workflow_id"`
	OrganizationID string        `json:"organization_id"`
	Title          string        `json:"title,omitempty"`
	Started        time.Time     `json:"started"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
}

// RunEvent is the bus payload for run lifecycle events.
type RunEvent struct {
	RunID          string        `json:"run_id"`
	WorkflowID     string        `json:"workflow_id"`
	OrganizationID string        `json:"organization_id"`
	Title          string        `json:"title,omitempty"`
	Started        time.Time     `json:"started,omitempty"`
	Duration       time.Duration `json:"duration,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Snapshot is a point-in-time view for the admin API.
type Snapshot struct {
	Enabled         bool          `json:"enabled"`
	Running         bool          `json:"running"`
	PollInterval    time.Duration `json:"poll_interval"`
	DefaultTimezone string        `json:"default_timezone"`
	Polls           uint64        `json:"polls"`
	LastPollAt      time.Time     `json:"last_poll_at"`
	ActiveRuns      []RunInfo     `json:"active_runs"`
	History         []HistoryItem `json:"history"`
}
