package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"triggerd/internal/store"
	"triggerd/internal/trigger"
	"triggerd/pkg/logx"
)

func TestWebhookLaunch(t *testing.T) {
	t.Parallel()
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sekrit" {
			t.Errorf("auth = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh, err := NewWebhook(Config{URL: srv.URL, Token: "sekrit"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}

	scheduled := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	err = wh.ExecuteWorkflow(context.Background(),
		store.Workflow{ID: "wf_1", OrganizationID: "org_1"},
		trigger.RunContext{RunID: "wf_1_42", ScheduledAt: scheduled})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	if got["workflow_id"] != "wf_1" || got["run_id"] != "wf_1_42" || got["trigger_type"] != "cron" {
		t.Fatalf("request body = %v", got)
	}
	if got["scheduled_at"] != "2025-06-01T00:00:00Z" {
		t.Fatalf("scheduled_at = %q", got["scheduled_at"])
	}
}

func TestWebhookRunnerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow not deployable", http.StatusConflict)
	}))
	defer srv.Close()

	wh, err := NewWebhook(Config{URL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	err = wh.ExecuteWorkflow(context.Background(), store.Workflow{ID: "wf_1"}, trigger.RunContext{RunID: "r"})
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("err = %v, want runner 409 error", err)
	}
}

func TestWebhookRequiresURL(t *testing.T) {
	t.Parallel()
	if _, err := NewWebhook(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestWebhookHonorsCancellation(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	wh, err := NewWebhook(Config{URL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- wh.ExecuteWorkflow(ctx, store.Workflow{ID: "wf_1"}, trigger.RunContext{RunID: "r"})
	}()
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteWorkflow did not observe cancellation")
	}
}
