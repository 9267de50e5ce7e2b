// Package config loads the application config and the jobs file.
//
// Both are YAML. The app config is decoded strictly (unknown fields are
// rejected); the jobs file is tolerant per item, so one malformed job
// definition never blocks the rest of the batch.
package config

import (
	"time"

	"etlsched/pkg/logx"
)

type App struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Server    ServerConfig    `json:"server,omitempty"`
	Jobs      JobsConfig      `json:"jobs"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console,omitempty"`
	File    FileConfig    `json:"file,omitempty"`
	Discord DiscordConfig `json:"discord,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// Logx converts to the log service config.
func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    c.Discord.Enabled,
			WebhookURL: c.Discord.WebhookURL,
			MinLevel:   c.Discord.MinLevel,
			RatePerSec: c.Discord.RatePerSec,
		},
	}
}

// SchedulerConfig tunes the control plane. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Timezone    string `json:"timezone,omitempty"` // IANA TZ; empty means UTC
	HistorySize int    `json:"history_size,omitempty"`

	// SubscriberBuffer is the per-subscriber event queue capacity.
	SubscriberBuffer int `json:"subscriber_buffer,omitempty"`

	// ShutdownWait bounds how long shutdown waits for in-flight runs.
	ShutdownWait string `json:"shutdown_wait,omitempty"`

	Store StoreConfig `json:"store,omitempty"`
}

type StoreConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" or "memory"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type ServerConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

type JobsConfig struct {
	Path string `json:"path,omitempty"`
	// Watch reloads the jobs file automatically when it changes on disk.
	Watch bool `json:"watch,omitempty"`
}

// ShutdownWaitOrDefault parses the shutdown wait with a fallback.
func (c SchedulerConfig) ShutdownWaitOrDefault(def time.Duration) time.Duration {
	d, err := parseDuration(c.ShutdownWait)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// BusyTimeoutOrZero parses the sqlite busy timeout; malformed values
// fall back to the driver default.
func (c StoreConfig) BusyTimeoutOrZero() time.Duration {
	d, err := parseDuration(c.BusyTimeout)
	if err != nil {
		return 0
	}
	return d
}
