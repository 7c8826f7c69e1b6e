package config

// Config is the root of the triggerd config file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Trigger TriggerConfig `json:"trigger"`
	API     APIConfig     `json:"api,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the workflow store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, lost on restart (tests / dev)
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./triggerd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TriggerConfig controls the cron trigger engine.
//
// Defaults (when fields are omitted/zero):
//   - enabled: false
//   - poll_interval: "60s"
//   - default_timezone: "UTC"
//   - history_size: 200
//
// PollInterval is also the due window: a workflow fires when its most
// recent scheduled time falls within the trailing poll_interval ending
// at the current poll. Keeping the two tied means changing the interval
// can neither double-fire nor silently miss a firing.
type TriggerConfig struct {
	Enabled         bool   `json:"enabled"`
	PollInterval    string `json:"poll_interval,omitempty"`
	DefaultTimezone string `json:"default_timezone,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`

	Executor ExecutorConfig `json:"executor"`
}

// ExecutorConfig points at the external workflow runner.
type ExecutorConfig struct {
	// URL receives a POST per triggered run.
	URL string `json:"url"`
	// Token is sent as a bearer token when set. Do not log.
	Token   string `json:"token,omitempty"`
	Timeout string `json:"timeout,omitempty"` // per-call; default "30s"
}

// APIConfig controls the optional admin HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type APIConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// RatePerSec bounds request throughput; 0 means default (10).
	RatePerSec int `json:"rate_per_sec,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
