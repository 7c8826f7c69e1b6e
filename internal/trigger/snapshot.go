package trigger

// Snapshot returns a point-in-time view of the engine for the admin
// API. Observability only, not a synchronization primitive.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	running := s.stopCh != nil && s.stopDone == nil
	active := make([]RunInfo, 0, len(s.active))
	for runID, run := range s.active {
		active = append(active, RunInfo{
			RunID:      runID,
			WorkflowID: run.workflowID,
			Started:    run.started,
		})
	}
	s.mu.Unlock()

	s.hmu.Lock()
	lastPoll := s.lastPoll
	history := make([]HistoryItem, len(s.history))
	copy(history, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:         cfg.Enabled,
		Running:         running,
		PollInterval:    cfg.PollInterval,
		DefaultTimezone: cfg.DefaultTimezone,
		Polls:           s.polls.Load(),
		LastPollAt:      lastPoll,
		ActiveRuns:      active,
		History:         history,
	}
}

// ActiveRunCount reports how many runs are outstanding.
func (s *Service) ActiveRunCount() int { return s.reg.Len() }
