package reminder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidSettings = errors.New("invalid reminder settings")

// TimeOfDay is a wall-clock "HH:MM" string, 00:00 to 23:59.
type TimeOfDay string

// Parse returns hour and minute, or an error for anything that isn't a valid HH:MM.
func (t TimeOfDay) Parse() (hour int, minute int, err error) {
	return parseHHMM(string(t))
}

func (t TimeOfDay) Valid() bool {
	_, _, err := t.Parse()
	return err == nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// Settings is the persisted reminder configuration, one per user.
type Settings struct {
	Enabled bool `json:"enabled"`

	FeedingReminder      bool      `json:"feeding_reminder"`
	FeedingIntervalHours int       `json:"feeding_interval_hours"`
	FeedingStartTime     TimeOfDay `json:"feeding_start_time"`

	SleepReminder bool      `json:"sleep_reminder"`
	SleepTime     TimeOfDay `json:"sleep_time"`

	SupplementReminder bool      `json:"supplement_reminder"`
	SupplementTime     TimeOfDay `json:"supplement_time"`

	VaccineReminder bool `json:"vaccine_reminder"`

	DailySummary     bool      `json:"daily_summary"`
	DailySummaryTime TimeOfDay `json:"daily_summary_time"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:              true,
		FeedingReminder:      true,
		FeedingIntervalHours: 3,
		FeedingStartTime:     "08:00",
		SleepReminder:        true,
		SleepTime:            "20:00",
		SupplementReminder:   true,
		SupplementTime:       "09:00",
		VaccineReminder:      true,
		DailySummary:         false,
		DailySummaryTime:     "20:00",
	}
}

// ValidInterval reports whether h is one of the offered feeding intervals.
func ValidInterval(h int) bool { return h >= 1 && h <= 4 }

// Validate checks every field a user can set. Loaded settings are not
// validated; a corrupt field only disables the kind that depends on it.
func (s Settings) Validate() error {
	if !ValidInterval(s.FeedingIntervalHours) {
		return fmt.Errorf("%w: feeding_interval_hours must be 1-4, got %d", ErrInvalidSettings, s.FeedingIntervalHours)
	}
	fields := []struct {
		name string
		v    TimeOfDay
	}{
		{"feeding_start_time", s.FeedingStartTime},
		{"sleep_time", s.SleepTime},
		{"supplement_time", s.SupplementTime},
		{"daily_summary_time", s.DailySummaryTime},
	}
	for _, f := range fields {
		if _, _, err := f.v.Parse(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSettings, f.name, err)
		}
	}
	return nil
}

// KindEnabled reports whether reminders of kind may be active under s.
func (s Settings) KindEnabled(k Kind) bool {
	if !s.Enabled {
		return false
	}
	switch k.Type {
	case KindFeeding:
		return s.FeedingReminder
	case KindSleep:
		return s.SleepReminder
	case KindSupplement:
		return s.SupplementReminder
	case KindDailySummary:
		return s.DailySummary
	case KindVaccine:
		return s.VaccineReminder
	default:
		return false
	}
}

// SettingsPatch is a partial update. Nil fields leave the current value alone.
type SettingsPatch struct {
	Enabled *bool `json:"enabled,omitempty"`

	FeedingReminder      *bool      `json:"feeding_reminder,omitempty"`
	FeedingIntervalHours *int       `json:"feeding_interval_hours,omitempty" validate:"omitempty,min=1,max=4"`
	FeedingStartTime     *TimeOfDay `json:"feeding_start_time,omitempty" validate:"omitempty,hhmm"`

	SleepReminder *bool      `json:"sleep_reminder,omitempty"`
	SleepTime     *TimeOfDay `json:"sleep_time,omitempty" validate:"omitempty,hhmm"`

	SupplementReminder *bool      `json:"supplement_reminder,omitempty"`
	SupplementTime     *TimeOfDay `json:"supplement_time,omitempty" validate:"omitempty,hhmm"`

	VaccineReminder *bool `json:"vaccine_reminder,omitempty"`

	DailySummary     *bool      `json:"daily_summary,omitempty"`
	DailySummaryTime *TimeOfDay `json:"daily_summary_time,omitempty" validate:"omitempty,hhmm"`
}

// Empty reports whether the patch sets no field.
func (p SettingsPatch) Empty() bool {
	return p == SettingsPatch{}
}

// Apply merges p over base field by field.
func (p SettingsPatch) Apply(base Settings) Settings {
	out := base
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.FeedingReminder != nil {
		out.FeedingReminder = *p.FeedingReminder
	}
	if p.FeedingIntervalHours != nil {
		out.FeedingIntervalHours = *p.FeedingIntervalHours
	}
	if p.FeedingStartTime != nil {
		out.FeedingStartTime = *p.FeedingStartTime
	}
	if p.SleepReminder != nil {
		out.SleepReminder = *p.SleepReminder
	}
	if p.SleepTime != nil {
		out.SleepTime = *p.SleepTime
	}
	if p.SupplementReminder != nil {
		out.SupplementReminder = *p.SupplementReminder
	}
	if p.SupplementTime != nil {
		out.SupplementTime = *p.SupplementTime
	}
	if p.VaccineReminder != nil {
		out.VaccineReminder = *p.VaccineReminder
	}
	if p.DailySummary != nil {
		out.DailySummary = *p.DailySummary
	}
	if p.DailySummaryTime != nil {
		out.DailySummaryTime = *p.DailySummaryTime
	}
	return out
}

// Validate checks only the fields the patch sets.
func (p SettingsPatch) Validate() error {
	if p.FeedingIntervalHours != nil && !ValidInterval(*p.FeedingIntervalHours) {
		return fmt.Errorf("%w: feeding_interval_hours must be 1-4, got %d", ErrInvalidSettings, *p.FeedingIntervalHours)
	}
	times := []struct {
		name string
		v    *TimeOfDay
	}{
		{"feeding_start_time", p.FeedingStartTime},
		{"sleep_time", p.SleepTime},
		{"supplement_time", p.SupplementTime},
		{"daily_summary_time", p.DailySummaryTime},
	}
	for _, f := range times {
		if f.v == nil {
			continue
		}
		if _, _, err := f.v.Parse(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSettings, f.name, err)
		}
	}
	return nil
}

// changedKinds returns the static kind types whose settings differ, plus
// whether the vaccine flag changed.
func changedKinds(prev, next Settings) (kinds []Kind, vaccine bool) {
	if prev.FeedingReminder != next.FeedingReminder ||
		prev.FeedingIntervalHours != next.FeedingIntervalHours ||
		prev.FeedingStartTime != next.FeedingStartTime {
		kinds = append(kinds, Feeding())
	}
	if prev.SleepReminder != next.SleepReminder || prev.SleepTime != next.SleepTime {
		kinds = append(kinds, Sleep())
	}
	if prev.SupplementReminder != next.SupplementReminder || prev.SupplementTime != next.SupplementTime {
		kinds = append(kinds, Supplement())
	}
	if prev.DailySummary != next.DailySummary || prev.DailySummaryTime != next.DailySummaryTime {
		kinds = append(kinds, DailySummary())
	}
	return kinds, prev.VaccineReminder != next.VaccineReminder
}
