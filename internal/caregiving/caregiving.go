// Package caregiving holds the event and vaccine records owned by the event store.
package caregiving

import (
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventFeeding    EventType = "feeding"
	EventSleep      EventType = "sleep"
	EventDiaper     EventType = "diaper"
	EventSupplement EventType = "supplement"
	EventVaccine    EventType = "vaccine"
)

// Event is one logged caregiving activity.
// A zero At means the stored timestamp was missing or unreadable.
type Event struct {
	ID      string    `json:"id"`
	ChildID string    `json:"child_id"`
	Type    EventType `json:"type"`
	SubType string    `json:"sub_type,omitempty"`
	At      time.Time `json:"at"`
}

// Vaccine is an upcoming vaccination for a child. Occasion identifies the dose
// (e.g. "hepb-2") and keys the vaccine reminder.
type Vaccine struct {
	ChildID  string    `json:"child_id"`
	Occasion string    `json:"occasion"`
	Name     string    `json:"name"`
	DueDate  time.Time `json:"due_date"`
}

// ParseEventType normalizes a type name. Unknown names are kept as-is so the
// store can hold types this package does not enumerate.
func ParseEventType(raw string) (EventType, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("event type required")
	}
	return EventType(s), nil
}
