package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logx "carecue/pkg/logx"
)

// Validate checks cross-field rules the strict decoder cannot express.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := logx.ParseLevel(cfg.Logging.Level); err != nil {
		add(fmt.Errorf("logging.level: %w", err))
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "file", "sqlite", "sqlite3":
		case "postgres", "postgresql", "pg":
			if strings.TrimSpace(s.DSN) == "" {
				add(errors.New("storage.dsn: required for postgres"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDuration("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	d := cfg.Dispatcher
	add(validateTimezone("dispatcher.timezone", d.Timezone))
	add(nonNegative("dispatcher.max_pending", d.MaxPending))
	add(nonNegative("dispatcher.queue_size", d.QueueSize))
	add(nonNegative("dispatcher.rate_per_sec", d.RatePerSec))
	if d.RetryMax != nil {
		add(nonNegative("dispatcher.retry_max", *d.RetryMax))
	}
	_, err := ParseDuration("dispatcher.retry_base", d.RetryBase)
	add(err)
	_, err = ParseDuration("dispatcher.retry_max_delay", d.RetryMaxDelay)
	add(err)

	r := cfg.Reminders
	add(validateTimezone("reminders.timezone", r.Timezone))
	add(nonNegative("reminders.queue_size", r.QueueSize))
	_, err = ParseDuration("reminders.window", r.Window)
	add(err)

	if h := cfg.HTTP; h != nil && h.Enabled {
		if addr := strings.TrimSpace(h.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				add(fmt.Errorf("http.addr: %w", err))
			}
		}
		_, err = ParseDuration("http.read_timeout", h.ReadTimeout)
		add(err)
		_, err = ParseDuration("http.write_timeout", h.WriteTimeout)
		add(err)
	}

	if t := cfg.Telegram; t != nil && t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			add(errors.New("telegram.token: required when enabled"))
		}
		if t.ChatID == 0 {
			add(errors.New("telegram.chat_id: required when enabled"))
		}
	}

	return errors.Join(errs...)
}

func validateTimezone(path, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func nonNegative(path string, v int) error {
	if v < 0 {
		return fmt.Errorf("%s: must be >= 0", path)
	}
	return nil
}

// Location resolves the reminder timezone, falling back to the local zone.
func (r RemindersConfig) Location() *time.Location {
	if name := strings.TrimSpace(r.Timezone); name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.Local
}

// EffectiveTimezone returns the dispatcher zone, inheriting reminders.timezone.
func (c *Config) EffectiveTimezone() string {
	if tz := strings.TrimSpace(c.Dispatcher.Timezone); tz != "" {
		return tz
	}
	return strings.TrimSpace(c.Reminders.Timezone)
}

// CleanupLegacyEnabled defaults to true.
func (r RemindersConfig) CleanupLegacyEnabled() bool {
	return r.CleanupLegacy == nil || *r.CleanupLegacy
}
