package reminder

import (
	"fmt"
	"time"

	"carecue/internal/caregiving"
	"carecue/internal/pattern"
)

type TriggerMode int

const (
	// TriggerDaily repeats every day at Hour:Minute in the dispatcher's timezone.
	TriggerDaily TriggerMode = iota + 1
	// TriggerAt fires once at At.
	TriggerAt
)

type Trigger struct {
	Mode   TriggerMode `json:"mode"`
	Hour   int         `json:"hour,omitempty"`
	Minute int         `json:"minute,omitempty"`
	At     time.Time   `json:"at,omitempty"`
}

func (t Trigger) String() string {
	switch t.Mode {
	case TriggerDaily:
		return fmt.Sprintf("daily %02d:%02d", t.Hour, t.Minute)
	case TriggerAt:
		return "at " + t.At.Format(time.RFC3339)
	default:
		return "none"
	}
}

type FeedingMode int

const (
	// FeedingAuto uses the pattern trigger and falls back to the interval one.
	FeedingAuto FeedingMode = iota
	// FeedingInterval only uses LastFeeding + interval; used right after a feeding is logged.
	FeedingInterval
)

const (
	vaccineLeadDays   = 7
	vaccineRemindHour = 10
)

// Inputs is everything Calculate may look at.
type Inputs struct {
	Settings    Settings
	Pattern     pattern.Data
	FeedingMode FeedingMode
	LastFeeding time.Time          // zero if unknown
	Vaccine     caregiving.Vaccine // only read for vaccine kinds
	Now         time.Time
	Location    *time.Location // wall clock for vaccine reminders; nil means Local
}

// Calculate maps a kind to its trigger. It is pure; ok is false when no trigger
// applies (unknown pattern, instant not in the future, corrupt setting).
func Calculate(k Kind, in Inputs) (Trigger, bool) {
	switch k.Type {
	case KindSupplement:
		return dailyAt(in.Settings.SupplementTime)
	case KindSleep:
		return dailyAt(in.Settings.SleepTime)
	case KindDailySummary:
		return dailyAt(in.Settings.DailySummaryTime)
	case KindFeeding:
		if in.FeedingMode != FeedingInterval {
			if t, ok := FeedingPatternTrigger(in.Pattern.AvgFeedingHour); ok {
				return t, true
			}
		}
		return FeedingIntervalTrigger(in.LastFeeding, in.Settings.FeedingIntervalHours, in.Now)
	case KindVaccine:
		if k.Occasion == "" {
			return Trigger{}, false
		}
		return VaccineTrigger(in.Vaccine.DueDate, in.Now, in.Location)
	default:
		return Trigger{}, false
	}
}

func dailyAt(t TimeOfDay) (Trigger, bool) {
	h, m, err := t.Parse()
	if err != nil {
		return Trigger{}, false
	}
	return Trigger{Mode: TriggerDaily, Hour: h, Minute: m}, true
}

// FeedingPatternTrigger fires daily at HH:30 of the hour before the average
// feeding hour; an average of 0 wraps to 23:30.
func FeedingPatternTrigger(avgFeedingHour *int) (Trigger, bool) {
	if avgFeedingHour == nil {
		return Trigger{}, false
	}
	avg := *avgFeedingHour
	if avg < 0 || avg > 23 {
		return Trigger{}, false
	}
	hour := avg - 1
	if hour < 0 {
		hour = 23
	}
	return Trigger{Mode: TriggerDaily, Hour: hour, Minute: 30}, true
}

// FeedingIntervalTrigger fires once at last + intervalHours, if that is strictly after now.
func FeedingIntervalTrigger(last time.Time, intervalHours int, now time.Time) (Trigger, bool) {
	if last.IsZero() || !ValidInterval(intervalHours) {
		return Trigger{}, false
	}
	at := last.Add(time.Duration(intervalHours) * time.Hour)
	if !at.After(now) {
		return Trigger{}, false
	}
	return Trigger{Mode: TriggerAt, At: at}, true
}

// VaccineTrigger fires once at 10:00 on the date seven days before due, if that is strictly after now.
func VaccineTrigger(due, now time.Time, loc *time.Location) (Trigger, bool) {
	if due.IsZero() {
		return Trigger{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	d := due.In(loc)
	at := time.Date(d.Year(), d.Month(), d.Day()-vaccineLeadDays, vaccineRemindHour, 0, 0, 0, loc)
	if !at.After(now) {
		return Trigger{}, false
	}
	return Trigger{Mode: TriggerAt, At: at}, true
}
