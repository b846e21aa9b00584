package dispatcher

import (
	"errors"
	"time"
)

var (
	ErrLimitExceeded = errors.New("dispatcher: too many pending notifications")
	ErrInvalidTime   = errors.New("dispatcher: invalid trigger time")
	ErrQueueFull     = errors.New("dispatcher: delivery queue full")
	ErrStopped       = errors.New("dispatcher stopped")
)

// Config controls the dispatcher.
type Config struct {
	Timezone      string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
	MaxPending    int    // platform limit on registered entries (default 64)
	QueueSize     int    // fired notifications waiting for delivery (default 32)
	RatePerSec    int    // delivery rate limit (default 1)
	RetryMax      int    // extra attempts per delivery
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Payload is the content of a notification. Kind is the reminder kind tag
// the scheduler uses to recognise its own registrations.
type Payload struct {
	Kind    string `json:"kind"`
	ChildID string `json:"child_id,omitempty"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// Scheduled describes one pending registration.
type Scheduled struct {
	ID      string    `json:"id"`
	Payload Payload   `json:"payload"`
	Daily   bool      `json:"daily"`
	Hour    int       `json:"hour,omitempty"`
	Minute  int       `json:"minute,omitempty"`
	At      time.Time `json:"at,omitempty"`
	Next    time.Time `json:"next,omitempty"`
}

// Notification is what a Sink receives when an entry fires.
type Notification struct {
	TriggerID string
	Payload   Payload
	FiredAt   time.Time
}

// FiredEvent is published on the event bus after each delivery attempt cycle.
type FiredEvent struct {
	TriggerID string    `json:"trigger_id"`
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
