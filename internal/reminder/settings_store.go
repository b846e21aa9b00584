package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	logx "carecue/pkg/logx"
)

const settingsKey = "reminder.settings"

var ErrPersist = errors.New("settings not persisted")

// KV is the persistent key-value store backing the settings.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// SettingsStore loads and saves Settings. It never fails a load: an unreadable
// or corrupt store yields the last known good value, or defaults.
type SettingsStore struct {
	kv  KV
	log logx.Logger

	mu      sync.Mutex
	cur     *Settings // last known good
	pending bool      // cur has not reached the store yet
}

func NewSettingsStore(kv KV, log logx.Logger) *SettingsStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SettingsStore{kv: kv, log: log}
}

// Load returns persisted settings merged over DefaultSettings.
func (s *SettingsStore) Load(ctx context.Context) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *SettingsStore) loadLocked(ctx context.Context) Settings {
	fallback := DefaultSettings()
	if s.cur != nil {
		fallback = *s.cur
	}
	if s.kv == nil {
		return fallback
	}
	if s.pending && s.cur != nil {
		// The store holds an older record; retry the write instead of reading it back.
		if err := s.writeLocked(ctx, *s.cur); err != nil {
			s.log.Debug("settings still not persisted", logx.Err(err))
		}
		return *s.cur
	}

	raw, ok, err := s.kv.Get(ctx, settingsKey)
	if err != nil {
		s.log.Warn("settings read failed; using last known good", logx.Err(err))
		return fallback
	}
	if !ok {
		out := DefaultSettings()
		s.cur = &out
		return out
	}

	// Decode over defaults so fields missing from older records keep their default.
	out := DefaultSettings()
	if err := json.Unmarshal(raw, &out); err != nil {
		s.log.Warn("settings corrupt; using last known good", logx.Err(err), logx.Int("bytes", len(raw)))
		return fallback
	}
	s.cur = &out
	return out
}

// Save merges patch over the last loaded value and persists the result.
//
// An invalid patch is rejected with ErrInvalidSettings and nothing changes.
// A write failure still keeps the merged value in memory and returns it
// together with an error wrapping ErrPersist.
func (s *SettingsStore) Save(ctx context.Context, patch SettingsPatch) (Settings, error) {
	if err := patch.Validate(); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cur != nil {
			return *s.cur, err
		}
		return s.loadLocked(ctx), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var base Settings
	if s.cur != nil {
		base = *s.cur
	} else {
		base = s.loadLocked(ctx)
	}
	merged := patch.Apply(base)
	s.cur = &merged

	if s.kv == nil {
		return merged, nil
	}
	if err := s.writeLocked(ctx, merged); err != nil {
		s.log.Warn("settings write failed; keeping in memory", logx.Err(err))
		return merged, err
	}
	return merged, nil
}

// writeLocked persists st and tracks whether the store is behind memory.
func (s *SettingsStore) writeLocked(ctx context.Context, st Settings) error {
	b, err := json.Marshal(st)
	if err == nil {
		err = s.kv.Set(ctx, settingsKey, b)
	}
	if err != nil {
		s.pending = true
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	s.pending = false
	return nil
}

// Reset restores defaults.
func (s *SettingsStore) Reset(ctx context.Context) (Settings, error) {
	d := DefaultSettings()
	return s.Save(ctx, SettingsPatch{
		Enabled:              &d.Enabled,
		FeedingReminder:      &d.FeedingReminder,
		FeedingIntervalHours: &d.FeedingIntervalHours,
		FeedingStartTime:     &d.FeedingStartTime,
		SleepReminder:        &d.SleepReminder,
		SleepTime:            &d.SleepTime,
		SupplementReminder:   &d.SupplementReminder,
		SupplementTime:       &d.SupplementTime,
		VaccineReminder:      &d.VaccineReminder,
		DailySummary:         &d.DailySummary,
		DailySummaryTime:     &d.DailySummaryTime,
	})
}

// flagSet reports whether a one-time marker key exists.
func (s *SettingsStore) flagSet(ctx context.Context, key string) (bool, error) {
	if s.kv == nil {
		return false, nil
	}
	_, ok, err := s.kv.Get(ctx, key)
	return ok, err
}

func (s *SettingsStore) setFlag(ctx context.Context, key string) error {
	if s.kv == nil {
		return nil
	}
	return s.kv.Set(ctx, key, []byte("done"))
}
