package store

import (
	"context"
	"errors"
	"strings"

	"triggerd/pkg/logx"
)

// Store is the persistence API consumed by the trigger engine and the admin API.
type Store interface {
	// ListCronEnabled returns, across all organizations, the workflows
	// with cron_enabled=true and a non-null cron expression.
	ListCronEnabled(ctx context.Context) ([]Workflow, error)
	Get(ctx context.Context, orgID, workflowID string) (Workflow, error)
	Put(ctx context.Context, wf Workflow) error
	SetSchedule(ctx context.Context, orgID, workflowID string, u ScheduleUpdate) (Workflow, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
