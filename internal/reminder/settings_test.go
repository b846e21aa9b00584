package reminder

import (
	"context"
	"errors"
	"strings"
	"testing"

	logx "carecue/pkg/logx"
)

func TestLoadDefaultsOnFirstUse(t *testing.T) {
	s := NewSettingsStore(newMemKV(), logx.Nop())
	if got := s.Load(context.Background()); got != DefaultSettings() {
		t.Fatalf("Load = %+v, want defaults", got)
	}
}

func TestSaveMergePreservesOtherFields(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()
	s := NewSettingsStore(kv, logx.Nop())

	sleep := TimeOfDay("21:30")
	if _, err := s.Save(ctx, SettingsPatch{SleepTime: &sleep}); err != nil {
		t.Fatal(err)
	}
	before := s.Load(ctx)

	off := false
	if _, err := s.Save(ctx, SettingsPatch{FeedingReminder: &off}); err != nil {
		t.Fatal(err)
	}

	// A fresh store reads only what was persisted.
	after := NewSettingsStore(kv, logx.Nop()).Load(ctx)
	want := before
	want.FeedingReminder = false
	if after != want {
		t.Fatalf("after = %+v\nwant  %+v", after, want)
	}
}

func TestLoadCorruptFallsBack(t *testing.T) {
	kv := newMemKV()
	kv.m[settingsKey] = []byte("{not json")
	if got := NewSettingsStore(kv, logx.Nop()).Load(context.Background()); got != DefaultSettings() {
		t.Fatalf("Load = %+v, want defaults", got)
	}
}

func TestLoadOldRecordKeepsNewDefaults(t *testing.T) {
	kv := newMemKV()
	kv.m[settingsKey] = []byte(`{"enabled":true,"sleep_time":"19:45"}`)
	got := NewSettingsStore(kv, logx.Nop()).Load(context.Background())
	if got.SleepTime != "19:45" {
		t.Fatalf("SleepTime = %q, want 19:45", got.SleepTime)
	}
	if got.SupplementTime != "09:00" || got.FeedingIntervalHours != 3 {
		t.Fatalf("missing fields not defaulted: %+v", got)
	}
}

func TestLoadReadErrorUsesLastKnownGood(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()
	s := NewSettingsStore(kv, logx.Nop())
	iv := 2
	if _, err := s.Save(ctx, SettingsPatch{FeedingIntervalHours: &iv}); err != nil {
		t.Fatal(err)
	}

	kv.getErr = errors.New("io error")
	if got := s.Load(ctx); got.FeedingIntervalHours != 2 {
		t.Fatalf("FeedingIntervalHours = %d, want last known good 2", got.FeedingIntervalHours)
	}
	if got := NewSettingsStore(kv, logx.Nop()).Load(ctx); got != DefaultSettings() {
		t.Fatalf("fresh store on read error = %+v, want defaults", got)
	}
}

func TestSaveValidation(t *testing.T) {
	bad := []struct {
		name  string
		patch SettingsPatch
	}{
		{"interval 0", SettingsPatch{FeedingIntervalHours: intp(0)}},
		{"interval 5", SettingsPatch{FeedingIntervalHours: intp(5)}},
		{"hour 24", SettingsPatch{SleepTime: todp("24:00")}},
		{"minute 60", SettingsPatch{SupplementTime: todp("09:60")}},
		{"one-digit minute", SettingsPatch{DailySummaryTime: todp("20:5")}},
		{"garbage", SettingsPatch{FeedingStartTime: todp("morning")}},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			kv := newMemKV()
			s := NewSettingsStore(kv, logx.Nop())
			got, err := s.Save(context.Background(), tc.patch)
			if !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("err = %v, want ErrInvalidSettings", err)
			}
			if got != DefaultSettings() {
				t.Fatalf("invalid patch changed settings: %+v", got)
			}
			if _, ok := kv.m[settingsKey]; ok {
				t.Fatal("invalid patch was persisted")
			}
		})
	}
}

func TestSavePersistFailureKeepsMerged(t *testing.T) {
	kv := newMemKV()
	kv.setErr = errors.New("read-only")
	ctx := context.Background()
	s := NewSettingsStore(kv, logx.Nop())

	off := false
	got, err := s.Save(ctx, SettingsPatch{SupplementReminder: &off})
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if got.SupplementReminder {
		t.Fatal("merged value not returned")
	}
	if s.Load(ctx).SupplementReminder {
		t.Fatal("merged value not kept as last known good")
	}

	// Once the store accepts writes again the next load flushes the value.
	kv.setErr = nil
	if s.Load(ctx).SupplementReminder {
		t.Fatal("merged value lost on retry")
	}
	raw, ok, _ := kv.Get(ctx, settingsKey)
	if !ok || !strings.Contains(string(raw), `"supplement_reminder":false`) {
		t.Fatalf("stored = %s", raw)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := NewSettingsStore(newMemKV(), logx.Nop())
	off := false
	if _, err := s.Save(ctx, SettingsPatch{Enabled: &off, SleepTime: todp("22:00")}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Reset(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != DefaultSettings() {
		t.Fatalf("Reset = %+v, want defaults", got)
	}
}

func TestChangedKinds(t *testing.T) {
	base := DefaultSettings()
	cases := []struct {
		name    string
		mutate  func(*Settings)
		want    []Kind
		vaccine bool
	}{
		{"nothing", func(*Settings) {}, nil, false},
		{"interval", func(s *Settings) { s.FeedingIntervalHours = 2 }, []Kind{Feeding()}, false},
		{"sleep toggle", func(s *Settings) { s.SleepReminder = false }, []Kind{Sleep()}, false},
		{"supplement time", func(s *Settings) { s.SupplementTime = "10:00" }, []Kind{Supplement()}, false},
		{"summary", func(s *Settings) { s.DailySummary = true }, []Kind{DailySummary()}, false},
		{"vaccine", func(s *Settings) { s.VaccineReminder = false }, nil, true},
		{"master only", func(s *Settings) { s.Enabled = false }, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next := base
			tc.mutate(&next)
			got, vac := changedKinds(base, next)
			if vac != tc.vaccine {
				t.Fatalf("vaccine = %v, want %v", vac, tc.vaccine)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("kinds = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("kinds = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func todp(s string) *TimeOfDay {
	t := TimeOfDay(s)
	return &t
}
