package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"triggerd/internal/eventbus"
	"triggerd/internal/store"
	"triggerd/pkg/logx"
)

type fakeSource struct {
	mu    sync.Mutex
	wfs   []store.Workflow
	errs  []error // consumed one per call, then nil
	calls int
}

func (f *fakeSource) ListCronEnabled(context.Context) ([]store.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]store.Workflow, len(f.wfs))
	copy(out, f.wfs)
	return out, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeExecutor struct {
	mu      sync.Mutex
	runs    []string
	started chan string   // receives each run id as it begins, if set
	block   chan struct{} // when set, Execute blocks until closed or ctx done
	err     error
}

func (f *fakeExecutor) ExecuteWorkflow(ctx context.Context, wf store.Workflow, run RunContext) error {
	f.mu.Lock()
	f.runs = append(f.runs, run.RunID)
	f.mu.Unlock()
	if f.started != nil {
		// Non-blocking: tests only care about the first few signals.
		select {
		case f.started <- run.RunID:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeExecutor) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func strPtr(s string) *string { return &s }

// everyMinute is due on every poll when the window is generous.
const everyMinute = "* * * * *"

func newTestService(src WorkflowSource, exec Executor, cfg Config) *Service {
	return New(cfg, src, exec, eventbus.New(), logx.Nop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDisabledOrUnscheduledNeverSpawns(t *testing.T) {
	t.Parallel()
	src := &fakeSource{wfs: []store.Workflow{
		{ID: "wf_off", OrganizationID: "o", CronExpression: strPtr(everyMinute), CronEnabled: false},
		{ID: "wf_null", OrganizationID: "o", CronExpression: nil, CronEnabled: true},
	}}
	exec := &fakeExecutor{}
	s := newTestService(src, exec, Config{Enabled: true, PollInterval: time.Hour})

	ctx := context.Background()
	s.Start(ctx)
	waitFor(t, time.Second, func() bool { return src.callCount() >= 1 }, "poll never ran")
	s.Stop(ctx)

	if n := exec.runCount(); n != 0 {
		t.Fatalf("executor ran %d times for disabled/unscheduled workflows, want 0", n)
	}
}

func TestOverlappingFiringSkipped(t *testing.T) {
	t.Parallel()
	src := &fakeSource{wfs: []store.Workflow{
		{ID: "wf_slow", OrganizationID: "o", CronExpression: strPtr(everyMinute), CronEnabled: true},
	}}
	exec := &fakeExecutor{started: make(chan string, 1), block: make(chan struct{})}
	s := newTestService(src, exec, Config{Enabled: true, PollInterval: 5 * time.Millisecond})

	ctx := context.Background()
	s.Start(ctx)

	<-exec.started
	// Let several more polls pass while the first run is still executing.
	first := src.callCount()
	waitFor(t, time.Second, func() bool { return src.callCount() >= first+3 }, "polls stalled")

	if n := exec.runCount(); n != 1 {
		t.Fatalf("executor ran %d times while a run was in flight, want 1", n)
	}

	close(exec.block)
	s.Stop(ctx)
	if got := s.ActiveRunCount(); got != 0 {
		t.Fatalf("registry holds %d runs after Stop, want 0", got)
	}
}

func TestStopDrainsOutstandingRuns(t *testing.T) {
	t.Parallel()
	const n = 5
	var wfs []store.Workflow
	for _, id := range []string{"wf_a", "wf_b", "wf_c", "wf_d", "wf_e"} {
		wfs = append(wfs, store.Workflow{ID: id, OrganizationID: "o", CronExpression: strPtr(everyMinute), CronEnabled: true})
	}
	src := &fakeSource{wfs: wfs}
	// Executor blocks until cancelled; cancellation comes from Stop.
	exec := &fakeExecutor{started: make(chan string, n), block: make(chan struct{})}
	s := newTestService(src, exec, Config{Enabled: true, PollInterval: time.Hour})

	ctx := context.Background()
	s.Start(ctx)
	for i := 0; i < n; i++ {
		<-exec.started
	}
	if got := s.ActiveRunCount(); got != n {
		t.Fatalf("ActiveRunCount = %d before Stop, want %d", got, n)
	}

	s.Stop(ctx)

	if got := s.ActiveRunCount(); got != 0 {
		t.Fatalf("registry holds %d runs after Stop, want 0", got)
	}
	if snap := s.Snapshot(); snap.Running {
		t.Fatal("Snapshot reports running after Stop")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	s := newTestService(src, &fakeExecutor{}, Config{Enabled: true, PollInterval: time.Hour})

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // must not spawn a second loop

	waitFor(t, time.Second, func() bool { return src.callCount() >= 1 }, "poll never ran")
	time.Sleep(20 * time.Millisecond)
	if got := src.callCount(); got != 1 {
		t.Fatalf("poll ran %d times after double Start, want 1 (one loop)", got)
	}

	s.Stop(ctx)
	s.Stop(ctx) // second stop is a no-op

	if snap := s.Snapshot(); snap.Running {
		t.Fatal("running after Stop")
	}
}

func TestStoreOutageSelfHeals(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		wfs:  []store.Workflow{{ID: "wf_1", OrganizationID: "o", CronExpression: strPtr(everyMinute), CronEnabled: true}},
		errs: []error{errors.New("store unreachable"), errors.New("store unreachable")},
	}
	exec := &fakeExecutor{started: make(chan string, 1)}
	s := newTestService(src, exec, Config{Enabled: true, PollInterval: 5 * time.Millisecond})

	ctx := context.Background()
	s.Start(ctx)
	select {
	case <-exec.started:
	case <-time.After(2 * time.Second):
		t.Fatal("executor never ran after transient store errors")
	}
	s.Stop(ctx)
}

func TestInvalidScheduleSkippedOthersStillFire(t *testing.T) {
	t.Parallel()
	src := &fakeSource{wfs: []store.Workflow{
		{ID: "wf_bad", OrganizationID: "o", CronExpression: strPtr("not a cron"), CronEnabled: true},
		{ID: "wf_badtz", OrganizationID: "o", CronExpression: strPtr(everyMinute), CronTimezone: "Nowhere/Land", CronEnabled: true},
		{ID: "wf_good", OrganizationID: "o", CronExpression: strPtr(everyMinute), CronEnabled: true},
	}}
	exec := &fakeExecutor{started: make(chan string, 3)}
	s := newTestService(src, exec, Config{Enabled: true, PollInterval: time.Hour})

	ctx := context.Background()
	s.Start(ctx)
	got := <-exec.started
	s.Stop(ctx)

	if want := "wf_good_"; len(got) < len(want) || got[:len(want)] != want {
		t.Fatalf("run id = %q, want prefix %q", got, want)
	}
	if n := exec.runCount(); n != 1 {
		t.Fatalf("executor ran %d times, want 1 (only the valid workflow)", n)
	}
}

func TestExecutorFailureStillDeregisters(t *testing.T) {
	t.Parallel()
	src := &fakeSource{wfs: []store.Workflow{
		{ID: "wf_1", OrganizationID: "o", CronExpression: strPtr(everyMinute), CronEnabled: true},
	}}
	exec := &fakeExecutor{started: make(chan string, 1), err: errors.New("runner rejected the request")}
	s := newTestService(src, exec, Config{Enabled: true, PollInterval: time.Hour})

	ctx := context.Background()
	s.Start(ctx)
	<-exec.started
	waitFor(t, time.Second, func() bool { return s.ActiveRunCount() == 0 }, "failed run never deregistered")
	s.Stop(ctx)

	snap := s.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Error == "" {
		t.Fatalf("history = %+v, want one failed item", snap.History)
	}
}

func TestRunEventsPublished(t *testing.T) {
	t.Parallel()
	src := &fakeSource{wfs: []store.Workflow{
		{ID: "wf_1", OrganizationID: "o", CronExpression: strPtr(everyMinute), CronEnabled: true},
	}}
	exec := &fakeExecutor{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Enabled: true, PollInterval: time.Hour}, src, exec, bus, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	var types []string
	deadline := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-deadline:
			t.Fatalf("timed out waiting for run events, got %v", types)
		}
	}
	s.Stop(ctx)

	if types[0] != eventbus.RunStarted || types[1] != eventbus.RunFinished {
		t.Fatalf("event types = %v, want [run.started run.finished]", types)
	}
}
