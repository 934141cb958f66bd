package config

// Config is the notifier bot configuration (cmd/loggram).
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Monitor  MonitorConfig  `json:"monitor"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChatID optionally receives forwarded warning/error log lines.
	LogChatID int64 `json:"log_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig locates the bot's sqlite database
// (projects + delivery history).
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// MonitorConfig controls the polling monitor.
//
// All durations are Go duration strings (e.g. "30s", "1h").
// Defaults (when fields are omitted/zero):
//   - interval: "1h"
//   - error_retry: "60s"
//   - fetch_timeout: "30s"
//   - send_timeout: "10s"
//   - dispatch_rate_per_sec: 1
type MonitorConfig struct {
	Interval           string `json:"interval,omitempty"`
	ErrorRetry         string `json:"error_retry,omitempty"`
	FetchTimeout       string `json:"fetch_timeout,omitempty"`
	SendTimeout        string `json:"send_timeout,omitempty"`
	DispatchRatePerSec int    `json:"dispatch_rate_per_sec,omitempty"`
	// AutoStart starts monitoring at boot instead of waiting for
	// /start_monitor.
	AutoStart bool `json:"auto_start,omitempty"`
}

// APIConfig is the per-project ingestion API configuration (cmd/logapi).
type APIConfig struct {
	ProjectName string          `json:"project_name"`
	Listen      string          `json:"listen"`
	Database    string          `json:"database,omitempty"`
	BusyTimeout string          `json:"busy_timeout,omitempty"`
	Logging     LoggingConfig   `json:"logging"`
	Retention   RetentionConfig `json:"retention"`
}

// RetentionConfig schedules periodic log cleanup.
type RetentionConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec (robfig/cron), e.g. "0 3 * * *".
	Schedule   string `json:"schedule,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}
