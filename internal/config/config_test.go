package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const yamlConfig = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./triggerd.db
trigger:
  enabled: true
  poll_interval: 30s
  default_timezone: America/New_York
  executor:
    url: http://127.0.0.1:8000/v1/runs
    token: sekrit
api:
  enabled: true
  addr: 127.0.0.1:8090
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.yaml", yamlConfig))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Trigger.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Trigger.PollInterval != "30s" || cfg.Trigger.DefaultTimezone != "America/New_York" {
		t.Fatalf("trigger = %+v", cfg.Trigger)
	}
	if cfg.Trigger.Executor.URL != "http://127.0.0.1:8000/v1/runs" {
		t.Fatalf("executor = %+v", cfg.Trigger.Executor)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json",
		`{"logging":{"level":"info","console":true},"storage":{"driver":"memory"},"trigger":{"enabled":false,"executor":{"url":""}}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Trigger.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.yaml", "logging:\n  levle: debug\n"))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "levle") {
		t.Fatalf("Parse = %v, want unknown field error", err)
	}
}

func TestTrailingJSONRejected(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json", `{"logging":{"console":true}}{"extra":1}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"45s", 45 * time.Second, false},
		{"2m", 2 * time.Minute, false},
		{"-1s", 0, true},
		{"sixty", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("trigger.poll_interval", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseDurationField(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseDurationField(%q) = %v, %v; want %v", tc.raw, got, err, tc.want)
		}
	}

	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Errorf("ParseDurationOrDefault empty = %v, %v", d, err)
	}
}
