package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("workflow not found")

// Config configures the workflow store.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Workflow is a schedulable entity snapshot.
//
// Invariant: if CronEnabled is true and CronExpression is non-nil, the
// expression passed cronspec validation when it was last set. The
// trigger engine still re-validates on every evaluation and skips on
// invalid input rather than trusting stored state.
type Workflow struct {
	ID             string
	OrganizationID string
	Title          string

	CronExpression *string // nil: no schedule
	CronTimezone   string  // IANA zone; empty means the engine default
	CronEnabled    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleUpdate is the admin write path for a workflow's cron config.
// A nil CronExpression clears the schedule.
type ScheduleUpdate struct {
	CronExpression *string
	CronTimezone   string
	CronEnabled    bool
}
