package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"triggerd/internal/cronspec"
	"triggerd/internal/store"
	"triggerd/pkg/logx"
)

// defaultOrg applies when the caller omits X-Org-ID (single-tenant
// local deployments).
const defaultOrg = "default"

type scheduleRequest struct {
	CronExpression *string `json:"cron_expression"`
	Timezone       string  `json:"timezone,omitempty"`
	Enabled        bool    `json:"enabled"`
}

type scheduleResponse struct {
	WorkflowID     string     `json:"workflow_id"`
	OrganizationID string     `json:"organization_id"`
	CronExpression *string    `json:"cron_expression"`
	Timezone       string     `json:"timezone"`
	Enabled        bool       `json:"enabled"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
}

func orgID(r *http.Request) string {
	if org := strings.TrimSpace(r.Header.Get("X-Org-ID")); org != "" {
		return org
	}
	return defaultOrg
}

func (s *Service) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, err := s.store.Get(r.Context(), orgID(r), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.log.Error("schedule lookup failed", logx.String("workflow_id", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, s.scheduleResponse(wf))
}

func (s *Service) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req scheduleRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// Invalid syntax must never reach the store or the evaluator.
	if req.CronExpression != nil {
		if err := cronspec.Validate(*req.CronExpression); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else if req.Enabled {
		writeError(w, http.StatusBadRequest, "cannot enable a schedule without a cron expression")
		return
	}
	if tz := strings.TrimSpace(req.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			writeError(w, http.StatusBadRequest, "unknown timezone "+tz)
			return
		}
	}

	wf, err := s.store.SetSchedule(r.Context(), orgID(r), id, store.ScheduleUpdate{
		CronExpression: req.CronExpression,
		CronTimezone:   strings.TrimSpace(req.Timezone),
		CronEnabled:    req.Enabled,
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.log.Error("schedule update failed", logx.String("workflow_id", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.log.Info("schedule updated",
		logx.String("workflow_id", wf.ID),
		logx.String("org_id", wf.OrganizationID),
		logx.Bool("enabled", wf.CronEnabled))
	writeJSON(w, http.StatusOK, s.scheduleResponse(wf))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Service) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": s.runs.List()})
}

func (s *Service) scheduleResponse(wf store.Workflow) scheduleResponse {
	resp := scheduleResponse{
		WorkflowID:     wf.ID,
		OrganizationID: wf.OrganizationID,
		CronExpression: wf.CronExpression,
		Timezone:       wf.CronTimezone,
		Enabled:        wf.CronEnabled,
	}
	if wf.CronEnabled && wf.CronExpression != nil {
		tz := wf.CronTimezone
		if tz == "" {
			s.mu.Lock()
			tz = s.defaultTZ
			s.mu.Unlock()
		}
		if loc, err := time.LoadLocation(tz); err == nil {
			if next, err := cronspec.Next(*wf.CronExpression, loc, time.Now()); err == nil {
				resp.NextRunAt = &next
			}
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
