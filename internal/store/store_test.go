package store

import (
	"context"
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestMemoryScheduleRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	if err := m.Put(ctx, Workflow{ID: "wf_1", OrganizationID: "org_1", Title: "nightly export"}); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	got, err := m.SetSchedule(ctx, "org_1", "wf_1", ScheduleUpdate{
		CronExpression: strPtr("0 0 * * *"),
		CronTimezone:   "Europe/Berlin",
		CronEnabled:    true,
	})
	if err != nil {
		t.Fatalf("SetSchedule error: %v", err)
	}
	if got.CronExpression == nil || *got.CronExpression != "0 0 * * *" {
		t.Fatalf("CronExpression = %v, want 0 0 * * *", got.CronExpression)
	}
	if got.CronTimezone != "Europe/Berlin" || !got.CronEnabled {
		t.Fatalf("unexpected schedule: tz=%q enabled=%v", got.CronTimezone, got.CronEnabled)
	}

	// Read back yields identical values.
	back, err := m.Get(ctx, "org_1", "wf_1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if back.CronExpression == nil || *back.CronExpression != "0 0 * * *" ||
		back.CronTimezone != "Europe/Berlin" || !back.CronEnabled {
		t.Fatalf("round-trip mismatch: %+v", back)
	}
}

func TestMemoryListCronEnabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	put := func(id string, expr *string, enabled bool) {
		t.Helper()
		if err := m.Put(ctx, Workflow{ID: id, OrganizationID: "org_1", CronExpression: expr, CronEnabled: enabled}); err != nil {
			t.Fatalf("Put(%s): %v", id, err)
		}
	}
	put("wf_on", strPtr("* * * * *"), true)
	put("wf_disabled", strPtr("* * * * *"), false)
	put("wf_no_expr", nil, true)

	got, err := m.ListCronEnabled(ctx)
	if err != nil {
		t.Fatalf("ListCronEnabled error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "wf_on" {
		t.Fatalf("ListCronEnabled = %+v, want only wf_on", got)
	}
}

func TestMemoryClearSchedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	if err := m.Put(ctx, Workflow{ID: "wf_1", OrganizationID: "org_1", CronExpression: strPtr("* * * * *"), CronEnabled: true}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := m.SetSchedule(ctx, "org_1", "wf_1", ScheduleUpdate{CronExpression: nil}); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	wf, err := m.Get(ctx, "org_1", "wf_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if wf.CronExpression != nil || wf.CronEnabled {
		t.Fatalf("schedule not cleared: %+v", wf)
	}
}

func TestMemoryNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.Get(ctx, "org_1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get err = %v, want ErrNotFound", err)
	}
	if _, err := m.SetSchedule(ctx, "org_1", "nope", ScheduleUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetSchedule err = %v, want ErrNotFound", err)
	}
}
