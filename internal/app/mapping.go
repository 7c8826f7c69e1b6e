package app

import (
	"fmt"
	"strings"
	"time"

	"triggerd/internal/api"
	"triggerd/internal/config"
	"triggerd/internal/executor"
	"triggerd/internal/store"
	"triggerd/internal/trigger"
	"triggerd/pkg/logx"
)

// The config file speaks strings; components speak typed configs.
// Mapping lives here so a bad file fails in one place with a field path
// in the error.

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func storeConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func triggerConfig(cfg *config.Config) (trigger.Config, error) {
	interval, err := config.ParseDurationField("trigger.poll_interval", cfg.Trigger.PollInterval)
	if err != nil {
		return trigger.Config{}, err
	}
	if tz := strings.TrimSpace(cfg.Trigger.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return trigger.Config{}, fmt.Errorf("trigger.default_timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Trigger.HistorySize < 0 {
		return trigger.Config{}, fmt.Errorf("trigger.history_size must be >= 0")
	}
	return trigger.Config{
		Enabled:         cfg.Trigger.Enabled,
		PollInterval:    interval,
		DefaultTimezone: cfg.Trigger.DefaultTimezone,
		HistorySize:     cfg.Trigger.HistorySize,
	}, nil
}

func executorConfig(cfg *config.Config) (executor.Config, error) {
	timeout, err := config.ParseDurationField("trigger.executor.timeout", cfg.Trigger.Executor.Timeout)
	if err != nil {
		return executor.Config{}, err
	}
	if cfg.Trigger.Enabled && strings.TrimSpace(cfg.Trigger.Executor.URL) == "" {
		return executor.Config{}, fmt.Errorf("trigger.executor.url is required when trigger.enabled")
	}
	return executor.Config{
		URL:     cfg.Trigger.Executor.URL,
		Token:   cfg.Trigger.Executor.Token,
		Timeout: timeout,
	}, nil
}

func apiConfig(cfg *config.Config) (api.Config, error) {
	read, err := config.ParseDurationField("api.read_timeout", cfg.API.ReadTimeout)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.ParseDurationField("api.write_timeout", cfg.API.WriteTimeout)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationField("api.idle_timeout", cfg.API.IdleTimeout)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Enabled:         cfg.API.Enabled,
		Addr:            cfg.API.Addr,
		Token:           cfg.API.Token,
		AllowInsecure:   cfg.API.AllowInsecure,
		RatePerSec:      cfg.API.RatePerSec,
		ReadTimeout:     read,
		WriteTimeout:    write,
		IdleTimeout:     idle,
		DefaultTimezone: cfg.Trigger.DefaultTimezone,
	}, nil
}

// validateConfig gates hot reloads: a file that fails any mapping keeps
// the previous config in effect.
func validateConfig(cfg *config.Config) error {
	if _, err := storeConfig(cfg); err != nil {
		return err
	}
	if _, err := triggerConfig(cfg); err != nil {
		return err
	}
	if _, err := executorConfig(cfg); err != nil {
		return err
	}
	if _, err := apiConfig(cfg); err != nil {
		return err
	}
	return nil
}
