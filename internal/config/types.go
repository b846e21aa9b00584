package config

// Config is the daemon configuration, loaded from JSON or YAML.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "168h").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Reminders  RemindersConfig  `json:"reminders"`
	HTTP       *HTTPConfig      `json:"http,omitempty"`
	Telegram   *TelegramConfig  `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the settings/event store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./carecue.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://carecue@localhost/carecue" }
//
// If the section is omitted the file driver is used with path "./carecue_store".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// DispatcherConfig controls the local notification dispatcher.
//
// Defaults (when fields are omitted/zero):
//   - timezone: reminders.timezone
//   - max_pending: 64
//   - queue_size: 32
//   - rate_per_sec: 1
//   - retry_max: 2
//   - retry_base: "500ms"
//   - retry_max_delay: "10s"
type DispatcherConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	MaxPending    int    `json:"max_pending,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// RemindersConfig controls the reminder engine.
//
// child_id, timezone and window are read once at startup.
type RemindersConfig struct {
	ChildID  string `json:"child_id"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ for pattern hours and vaccine dates
	Window   string `json:"window,omitempty"`   // pattern window, default "168h"

	// QueueSize bounds pending scheduling requests (default 16).
	QueueSize int `json:"queue_size,omitempty"`

	// CleanupLegacy runs the one-time removal of unknown reminder kinds on start (default true).
	CleanupLegacy *bool `json:"cleanup_legacy,omitempty"`
}

// HTTPConfig controls the local control API.
//
// Prefer binding to localhost; the API has no authentication.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:8087"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// TelegramConfig routes fired reminders to a Telegram chat instead of the log.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"` // do not log
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}
