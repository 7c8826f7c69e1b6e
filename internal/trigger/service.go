package trigger

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"triggerd/internal/eventbus"
	"triggerd/internal/store"
	"triggerd/pkg/logx"
)

// Service owns the poll loop, the dedup registry, and the run tasks.
// Construct one per process and pass it around explicitly; there is no
// package-level instance.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	src  WorkflowSource
	exec Executor
	bus  eventbus.Bus
	reg  *Registry

	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed
	// once every run task has been accounted for.
	stopDone chan struct{}
	loopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	active    map[string]activeRun // runID -> cancel + metadata
	taskWG    sync.WaitGroup

	// test hook
	now func() time.Time

	polls    atomic.Uint64
	hmu      sync.Mutex
	lastPoll time.Time
	history  []HistoryItem
}

// activeRun holds what Stop() and Snapshot() need to know about one
// outstanding run task.
type activeRun struct {
	cancel     context.CancelFunc
	workflowID string
	started    time.Time
}

func New(cfg Config, src WorkflowSource, exec Executor, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:  log,
		cfg:  cfg.withDefaults(),
		src:  src,
		exec: exec,
		bus:  bus,
		reg:  NewRegistry(),
		now:  time.Now,
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply installs cfg for the next poll iteration. Poll interval,
// default timezone and history size take effect live; flipping Enabled
// is the caller's cue to Start/Stop.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg.withDefaults()
	cur := s.cfg
	s.mu.Unlock()

	if old.PollInterval != cur.PollInterval {
		s.log.Info("poll interval changed",
			logx.Duration("old", old.PollInterval), logx.Duration("new", cur.PollInterval))
	}
}

// Start transitions the engine to running and returns once the poll
// loop has begun. It is a no-op when already running; when a Stop() is
// in flight it waits for that stop to finish first (prevents two loops).
func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break // holds s.mu
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop and try again
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.active = map[string]activeRun{}

	// Local captures prevent races if fields are swapped during Stop().
	runCtx := s.runCtx
	stopCh := s.stopCh
	loopDone := s.loopDone

	go func() {
		defer close(loopDone)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in poll loop",
					logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.pollLoop(runCtx, stopCh)
	}()

	s.log.Info("trigger engine started",
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.String("default_tz", s.cfg.DefaultTimezone))
}

// Stop raises the stop signal, waits for the poll loop to exit, cancels
// every outstanding run, and returns once all run tasks have
// deregistered (or ctx is done; draining then continues in background).
// No-op when already stopped; joins a stop already in progress.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	loopDone := s.loopDone
	s.mu.Unlock()

	// Wake the poll loop; its interval wait is cancellable, so this
	// returns promptly rather than after up to one full interval.
	close(stopCh)
	select {
	case <-loopDone:
	case <-ctx.Done():
	}

	// Cancel each outstanding run. The registry listing is
	// non-destructive: every task removes itself as it unwinds.
	outstanding := s.reg.ActiveRuns()
	s.mu.Lock()
	for _, runID := range outstanding {
		if run, ok := s.active[runID]; ok && run.cancel != nil {
			run.cancel()
		}
	}
	cancelAll := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()
	if cancelAll != nil {
		cancelAll()
	}
	if len(outstanding) > 0 {
		s.log.Info("cancelling outstanding runs", logx.Int("count", len(outstanding)))
	}

	// Finalize in background so Stop() can return on ctx timeout safely.
	go func() {
		s.taskWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.loopDone = nil
		s.runCtx = nil
		s.active = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("trigger engine stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// drain continues in background
	}
}

func (s *Service) pollLoop(ctx context.Context, stopCh <-chan struct{}) {
	for {
		s.pollOnce(ctx)

		s.mu.Lock()
		interval := s.cfg.PollInterval
		s.mu.Unlock()

		t := time.NewTimer(interval)
		select {
		case <-stopCh:
			t.Stop()
			return
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// pollOnce runs one iteration: list, evaluate, admit, spawn. A store
// failure aborts this iteration only; the loop self-heals next wake.
func (s *Service) pollOnce(ctx context.Context) {
	now := s.now()
	s.polls.Add(1)
	s.hmu.Lock()
	s.lastPoll = now
	s.hmu.Unlock()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	workflows, err := s.src.ListCronEnabled(ctx)
	if err != nil {
		s.log.Warn("workflow listing failed; skipping this poll", logx.Err(err))
		return
	}
	s.log.Debug("checking workflows", logx.Int("count", len(workflows)), logx.Time("now", now))

	for i := range workflows {
		s.checkOne(workflows[i], now, cfg)
	}
}

// checkOne evaluates a single workflow. One bad workflow must never
// starve the rest, so panics are contained here.
func (s *Service) checkOne(wf store.Workflow, now time.Time, cfg Config) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic while evaluating workflow",
				logx.String("workflow_id", wf.ID),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	// The store already filters, but stored state is not trusted.
	if !wf.CronEnabled || wf.CronExpression == nil {
		return
	}
	tz := wf.CronTimezone
	if tz == "" {
		tz = cfg.DefaultTimezone
	}

	d := Evaluate(*wf.CronExpression, tz, now, cfg.PollInterval)
	switch d.Verdict {
	case VerdictInvalid:
		s.log.Warn("skipping workflow with invalid schedule",
			logx.String("workflow_id", wf.ID),
			logx.String("org_id", wf.OrganizationID),
			logx.Err(d.Err))
	case VerdictNotDue:
	case VerdictDue:
		runID := fmt.Sprintf("%s_%d", wf.ID, now.UnixNano())
		if !s.reg.TryRegister(wf.ID, runID) {
			// Expected steady-state under slow jobs, not an error.
			s.log.Info("workflow already running; skipping this firing",
				logx.String("workflow_id", wf.ID),
				logx.String("title", wf.Title),
				logx.String("run_id", runID))
			s.publish(eventbus.RunSkipped, RunEvent{
				RunID: runID, WorkflowID: wf.ID, OrganizationID: wf.OrganizationID, Title: wf.Title,
			})
			return
		}
		s.spawnRun(wf, runID, d.FiredAt)
	}
}

// spawnRun launches one run task. The task deregisters unconditionally
// as it unwinds, whatever the outcome.
func (s *Service) spawnRun(wf store.Workflow, runID string, firedAt time.Time) {
	s.mu.Lock()
	base := s.runCtx
	if base == nil {
		// stop won the race; give the claim back
		s.mu.Unlock()
		s.reg.Deregister(runID)
		return
	}
	started := s.now()
	runCtx, cancel := context.WithCancel(base)
	s.active[runID] = activeRun{cancel: cancel, workflowID: wf.ID, started: started}
	s.taskWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.taskWG.Done()
		defer func() {
			r := recover()
			s.reg.Deregister(runID)
			s.mu.Lock()
			if s.active != nil {
				delete(s.active, runID)
			}
			s.mu.Unlock()
			cancel()
			if r != nil {
				s.log.Error("panic in run task",
					logx.String("workflow_id", wf.ID), logx.String("run_id", runID),
					logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()

		s.log.Info("triggering workflow",
			logx.String("workflow_id", wf.ID),
			logx.String("title", wf.Title),
			logx.String("run_id", runID),
			logx.Time("scheduled_at", firedAt))
		s.publish(eventbus.RunStarted, RunEvent{
			RunID: runID, WorkflowID: wf.ID, OrganizationID: wf.OrganizationID,
			Title: wf.Title, Started: started,
		})

		err := s.exec.ExecuteWorkflow(runCtx, wf, RunContext{RunID: runID, ScheduledAt: firedAt})
		dur := time.Since(started)

		item := HistoryItem{
			RunID: runID, WorkflowID: wf.ID, OrganizationID: wf.OrganizationID,
			Title: wf.Title, Started: started, Duration: dur,
		}
		switch {
		case err == nil:
			s.log.Info("workflow run finished",
				logx.String("workflow_id", wf.ID), logx.String("run_id", runID),
				logx.Duration("dur", dur))
		case errors.Is(err, context.Canceled):
			item.Error = err.Error()
			s.log.Debug("workflow run cancelled",
				logx.String("workflow_id", wf.ID), logx.String("run_id", runID))
		default:
			item.Error = err.Error()
			s.log.Warn("workflow run failed",
				logx.String("workflow_id", wf.ID), logx.String("run_id", runID),
				logx.Duration("dur", dur), logx.Err(err))
		}
		s.recordHistory(item)
		s.publish(eventbus.RunFinished, RunEvent{
			RunID: runID, WorkflowID: wf.ID, OrganizationID: wf.OrganizationID,
			Title: wf.Title, Started: started, Duration: dur, Error: item.Error,
		})
	}()
}

func (s *Service) publish(typ string, ev RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (s *Service) recordHistory(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
}
