package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process store for tests and ephemeral runs.
type Memory struct {
	mu  sync.RWMutex
	wfs map[memKey]Workflow
}

type memKey struct{ org, id string }

func NewMemory() *Memory {
	return &Memory{wfs: map[memKey]Workflow{}}
}

func (m *Memory) ListCronEnabled(_ context.Context) ([]Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Workflow
	for _, wf := range m.wfs {
		if wf.CronEnabled && wf.CronExpression != nil {
			out = append(out, cloneWorkflow(wf))
		}
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, orgID, workflowID string) (Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.wfs[memKey{orgID, workflowID}]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	return cloneWorkflow(wf), nil
}

func (m *Memory) Put(_ context.Context, wf Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	m.wfs[memKey{wf.OrganizationID, wf.ID}] = cloneWorkflow(wf)
	return nil
}

func (m *Memory) SetSchedule(_ context.Context, orgID, workflowID string, u ScheduleUpdate) (Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{orgID, workflowID}
	wf, ok := m.wfs[k]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	if u.CronExpression != nil {
		v := *u.CronExpression
		wf.CronExpression = &v
	} else {
		wf.CronExpression = nil
	}
	wf.CronTimezone = u.CronTimezone
	wf.CronEnabled = u.CronEnabled
	wf.UpdatedAt = time.Now().UTC()
	m.wfs[k] = wf
	return cloneWorkflow(wf), nil
}

func (m *Memory) Close() error { return nil }

// cloneWorkflow keeps callers from mutating the stored pointer field.
func cloneWorkflow(wf Workflow) Workflow {
	if wf.CronExpression != nil {
		v := *wf.CronExpression
		wf.CronExpression = &v
	}
	return wf
}
