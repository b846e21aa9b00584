// Package dispatcher is the local notification dispatcher.
//
// It owns wall-clock firing: daily entries run on a robfig/cron instance in the
// configured timezone, one-off entries on versioned time.AfterFunc timers.
// Every registration gets an opaque id; Cancel by id is a no-op for ids the
// dispatcher does not know.
//
// Fired entries are handed to a bounded delivery queue. A single worker rate
// limits and retries delivery into a Sink (log or Telegram) and publishes
// reminder.fired / reminder.failed on the event bus.
package dispatcher
