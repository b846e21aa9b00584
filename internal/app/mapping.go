package app

import (
	"fmt"
	"strings"
	"time"

	"carecue/internal/config"
	"carecue/internal/dispatcher"
	"carecue/internal/httpapi"
	"carecue/internal/pattern"
	"carecue/internal/storage"
	logx "carecue/pkg/logx"
)

const (
	defaultChildID   = "default"
	defaultFilePath  = "./carecue_store"
	defaultSQLite    = "./carecue.db"
	defaultRetryMax  = 2
	defaultHTTPTimeo = 10 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig defaults to the file driver when the section is omitted.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	var sc config.StorageConfig
	if cfg.Storage != nil {
		sc = *cfg.Storage
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		if path == "" {
			path = defaultFilePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = defaultSQLite
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: sc.DSN}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDispatcherConfig(cfg *config.Config) (dispatcher.Config, error) {
	d := cfg.Dispatcher
	retryMax := defaultRetryMax
	if d.RetryMax != nil {
		retryMax = *d.RetryMax
	}
	base, err := config.DurationOr("dispatcher.retry_base", d.RetryBase, 500*time.Millisecond)
	if err != nil {
		return dispatcher.Config{}, err
	}
	maxDelay, err := config.DurationOr("dispatcher.retry_max_delay", d.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return dispatcher.Config{}, err
	}
	return dispatcher.Config{
		Timezone:      cfg.EffectiveTimezone(),
		MaxPending:    d.MaxPending,
		QueueSize:     d.QueueSize,
		RatePerSec:    d.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func mapPatternConfig(cfg *config.Config) (pattern.Config, error) {
	window, err := config.DurationOr("reminders.window", cfg.Reminders.Window, pattern.DefaultWindow)
	if err != nil {
		return pattern.Config{}, err
	}
	return pattern.Config{Window: window, Location: cfg.Reminders.Location()}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	if cfg.HTTP == nil {
		return httpapi.Config{}, nil
	}
	h := *cfg.HTTP
	rt, err := config.DurationOr("http.read_timeout", h.ReadTimeout, defaultHTTPTimeo)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := config.DurationOr("http.write_timeout", h.WriteTimeout, defaultHTTPTimeo)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{Enabled: h.Enabled, Addr: h.Addr, ReadTimeout: rt, WriteTimeout: wt}, nil
}

func childID(cfg *config.Config) string {
	if id := strings.TrimSpace(cfg.Reminders.ChildID); id != "" {
		return id
	}
	return defaultChildID
}
