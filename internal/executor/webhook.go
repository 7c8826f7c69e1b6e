// Package executor launches triggered workflow runs against an external
// runner service. The trigger engine does not retry; whatever retry or
// classification policy exists lives behind the runner endpoint.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"triggerd/internal/store"
	"triggerd/internal/trigger"
	"triggerd/pkg/logx"
)

// Config points at the external workflow runner.
type Config struct {
	URL     string
	Token   string // optional bearer token; never logged
	Timeout time.Duration
}

// Webhook POSTs one launch request per triggered run.
type Webhook struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

// launchRequest mirrors what the runner expects for a cron-triggered run.
type launchRequest struct {
	WorkflowID     string `json:"workflow_id"`
	OrganizationID string `json:"organization_id"`
	RunID          string `json:"run_id"`
	TriggerType    string `json:"trigger_type"`
	ScheduledAt    string `json:"scheduled_at"`
}

func NewWebhook(cfg Config, log logx.Logger) (*Webhook, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("executor url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}, nil
}

func (w *Webhook) ExecuteWorkflow(ctx context.Context, wf store.Workflow, run trigger.RunContext) error {
	body, err := json.Marshal(launchRequest{
		WorkflowID:     wf.ID,
		OrganizationID: wf.OrganizationID,
		RunID:          run.RunID,
		TriggerType:    "cron",
		ScheduledAt:    run.ScheduledAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("runner call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Keep a short error excerpt; the runner's body is its own format.
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("runner returned %s: %s", resp.Status, strings.TrimSpace(string(excerpt)))
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
