package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"carecue/internal/caregiving"
	"carecue/internal/dispatcher"
	"carecue/internal/eventbus"
	"carecue/internal/pattern"
	logx "carecue/pkg/logx"
)

const legacyCleanupKey = "reminder.legacy_cleanup.v1"

// Dispatcher registers notifications and fires them on the wall clock.
// Cancel must be a no-op for unknown ids.
type Dispatcher interface {
	ScheduleDaily(ctx context.Context, hour, minute int, p dispatcher.Payload) (string, error)
	ScheduleAt(ctx context.Context, at time.Time, p dispatcher.Payload) (string, error)
	Cancel(ctx context.Context, id string) error
	ListScheduled(ctx context.Context) ([]dispatcher.Scheduled, error)
}

// EventStore is the part of the event store the scheduler reads directly.
type EventStore interface {
	LastEvent(ctx context.Context, childID string, typ caregiving.EventType) (caregiving.Event, bool, error)
	UpcomingVaccines(ctx context.Context, childID string, from time.Time) ([]caregiving.Vaccine, error)
}

// PatternSource is satisfied by *pattern.Analyzer.
type PatternSource interface {
	Analyze(ctx context.Context, childID string, ref time.Time) pattern.Data
}

type Config struct {
	ChildID  string
	Location *time.Location   // wall clock for vaccine reminders
	Now      func() time.Time // defaults to time.Now
}

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Settings   *SettingsStore
	Events     EventStore
	Patterns   PatternSource
	Dispatcher Dispatcher
	Bus        eventbus.Bus
	Log        logx.Logger
}

// Scheduler keeps the dispatcher's registrations in line with settings and
// patterns, one registration per Kind at most.
//
// Every operation that touches the registry or the dispatcher runs under mu,
// so a cancel for a kind always completes before its replacement is
// registered and concurrent passes cannot orphan a dispatcher entry.
type Scheduler struct {
	mu sync.Mutex

	cfg      Config
	settings *SettingsStore
	events   EventStore
	patterns PatternSource
	disp     Dispatcher
	bus      eventbus.Bus
	log      logx.Logger

	reg     *Registry
	applied *Settings         // settings of the last full or diff pass
	failed  map[Kind]struct{} // kinds whose last pass errored; retried on the next diff pass
}

func NewScheduler(cfg Config, d Deps) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	settings := d.Settings
	if settings == nil {
		settings = NewSettingsStore(nil, log)
	}
	return &Scheduler{
		cfg:      cfg,
		settings: settings,
		events:   d.Events,
		patterns: d.Patterns,
		disp:     d.Dispatcher,
		bus:      d.Bus,
		log:      log,
		reg:      NewRegistry(),
		failed:   map[Kind]struct{}{},
	}
}

// Settings returns the current settings.
func (s *Scheduler) Settings(ctx context.Context) Settings {
	return s.settings.Load(ctx)
}

// Snapshot returns the registry contents sorted by kind tag.
func (s *Scheduler) Snapshot() []Entry {
	return s.reg.Entries()
}

// ScheduleOrUpdate brings the registration for k in line with in.
//
// A disabled kind, or one without a trigger, is cancelled. Otherwise any
// existing registration is cancelled and a new one registered. The registry
// only ever records what the dispatcher confirmed.
func (s *Scheduler) ScheduleOrUpdate(ctx context.Context, k Kind, in Inputs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(ctx, k, in)
}

// CancelAll cancels every registration. Entries whose cancel failed stay in
// the registry and their errors are joined.
func (s *Scheduler) CancelAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelAllLocked(ctx)
}

// RescheduleFromSettingsChange re-runs only the kinds whose settings differ
// from the last applied settings. Master off cancels everything; the first
// call, or master back on, reschedules every kind.
func (s *Scheduler) RescheduleFromSettingsChange(ctx context.Context, next Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rescheduleLocked(ctx, next)
}

// UpdateSettings saves patch and reschedules the kinds it changed.
//
// An invalid patch changes nothing. A persistence failure still reschedules
// from the merged settings and is returned joined with any scheduling error.
func (s *Scheduler) UpdateSettings(ctx context.Context, patch SettingsPatch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.settings.Save(ctx, patch)
	if errors.Is(err, ErrInvalidSettings) {
		return next, err
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSettingsChanged, Data: next})
	}
	return next, errors.Join(err, s.rescheduleLocked(ctx, next))
}

// ResetSettings restores default settings and reschedules what changed.
func (s *Scheduler) ResetSettings(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.settings.Reset(ctx)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSettingsChanged, Data: next})
	}
	return next, errors.Join(err, s.rescheduleLocked(ctx, next))
}

// Refresh runs a full pass over every kind with freshly loaded settings,
// pattern data, last feeding and upcoming vaccines.
func (s *Scheduler) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.settings.Load(ctx)
	s.applied = &st
	if !st.Enabled {
		return s.cancelAllLocked(ctx)
	}

	in := s.inputsLocked(ctx, st)
	var errs []error
	for _, k := range StaticKinds() {
		if err := s.scheduleLocked(ctx, k, in); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.syncVaccinesLocked(ctx, in); err != nil {
		errs = append(errs, err)
	}
	s.log.Debug("refresh done", logx.Int("registered", s.reg.Len()), logx.Int("errors", len(errs)))
	return errors.Join(errs...)
}

// OnEventLogged reacts to a newly logged event. A feeding reschedules the
// feeding reminder in interval mode from the latest known feeding.
func (s *Scheduler) OnEventLogged(ctx context.Context, ev caregiving.Event) error {
	if ev.Type != caregiving.EventFeeding || ev.At.IsZero() {
		return nil
	}
	if ev.ChildID != "" && s.cfg.ChildID != "" && ev.ChildID != s.cfg.ChildID {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.currentLocked(ctx)
	last := ev.At
	if s.events != nil {
		prev, ok, err := s.events.LastEvent(ctx, s.cfg.ChildID, caregiving.EventFeeding)
		if err != nil {
			s.log.Warn("last feeding lookup failed; using logged event", logx.Err(err))
		} else if ok && prev.At.After(last) {
			last = prev.At
		}
	}
	in := Inputs{
		Settings:    st,
		FeedingMode: FeedingInterval,
		LastFeeding: last,
		Now:         s.cfg.Now(),
		Location:    s.cfg.Location,
	}
	return s.scheduleLocked(ctx, Feeding(), in)
}

// CleanupLegacy cancels dispatcher registrations whose kind tag is no longer
// known. It runs once; the completion marker is only written when every
// cancel succeeded.
func (s *Scheduler) CleanupLegacy(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	done, err := s.settings.flagSet(ctx, legacyCleanupKey)
	if err != nil {
		s.log.Warn("legacy cleanup marker unreadable; running cleanup", logx.Err(err))
	}
	if done {
		return 0, nil
	}

	list, err := s.disp.ListScheduled(ctx)
	if err != nil {
		return 0, fmt.Errorf("list scheduled: %w", err)
	}
	removed := 0
	var errs []error
	for _, sc := range list {
		if _, perr := ParseKind(sc.Payload.Kind); perr == nil {
			continue
		}
		if err := s.disp.Cancel(ctx, sc.ID); err != nil {
			errs = append(errs, fmt.Errorf("cancel legacy %q: %w", sc.Payload.Kind, err))
			continue
		}
		removed++
		s.log.Info("legacy reminder cancelled", logx.String("kind", sc.Payload.Kind), logx.String("id", sc.ID))
	}
	if len(errs) > 0 {
		return removed, errors.Join(errs...)
	}
	if err := s.settings.setFlag(ctx, legacyCleanupKey); err != nil {
		s.log.Warn("legacy cleanup marker not saved", logx.Err(err))
	}
	return removed, nil
}

func (s *Scheduler) rescheduleLocked(ctx context.Context, next Settings) error {
	prev := s.applied
	s.applied = &next

	if !next.Enabled {
		return s.cancelAllLocked(ctx)
	}

	var (
		kinds    []Kind
		vaccines bool
	)
	if prev == nil || !prev.Enabled {
		kinds, vaccines = StaticKinds(), true
	} else {
		kinds, vaccines = changedKinds(*prev, next)
		kinds, vaccines = s.withFailedLocked(kinds, vaccines)
	}
	if len(kinds) == 0 && !vaccines {
		s.log.Debug("reminder settings unchanged")
		return nil
	}

	in := s.inputsLocked(ctx, next)
	var errs []error
	for _, k := range kinds {
		if err := s.scheduleLocked(ctx, k, in); err != nil {
			errs = append(errs, err)
		}
	}
	if vaccines {
		if err := s.syncVaccinesLocked(ctx, in); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withFailedLocked adds kinds whose last scheduling attempt failed.
func (s *Scheduler) withFailedLocked(kinds []Kind, vaccines bool) ([]Kind, bool) {
	seen := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		seen[k] = true
	}
	for _, k := range StaticKinds() {
		if _, ok := s.failed[k]; ok && !seen[k] {
			kinds = append(kinds, k)
		}
	}
	for k := range s.failed {
		if k.Type == KindVaccine {
			vaccines = true
		}
	}
	return kinds, vaccines
}

func (s *Scheduler) scheduleLocked(ctx context.Context, k Kind, in Inputs) error {
	err := s.applyKindLocked(ctx, k, in)
	if err != nil {
		s.failed[k] = struct{}{}
	} else {
		delete(s.failed, k)
	}
	return err
}

func (s *Scheduler) applyKindLocked(ctx context.Context, k Kind, in Inputs) error {
	if !in.Settings.KindEnabled(k) {
		return s.ensureAbsentLocked(ctx, k, "disabled")
	}
	trig, ok := Calculate(k, in)
	if !ok {
		return s.ensureAbsentLocked(ctx, k, "no trigger")
	}

	if prev, ok := s.reg.Get(k); ok {
		if err := s.disp.Cancel(ctx, prev.TriggerID); err != nil {
			s.log.Warn("reminder cancel failed; keeping current", logx.String("kind", k.String()), logx.String("id", prev.TriggerID), logx.Err(err))
			return fmt.Errorf("cancel %s: %w", k, err)
		}
		s.reg.Delete(k)
		s.publish(eventbus.TypeReminderCancelled, prev)
	}

	p := payloadFor(k, s.cfg.ChildID, in)
	var (
		id  string
		err error
	)
	switch trig.Mode {
	case TriggerDaily:
		id, err = s.disp.ScheduleDaily(ctx, trig.Hour, trig.Minute, p)
	case TriggerAt:
		id, err = s.disp.ScheduleAt(ctx, trig.At, p)
	default:
		err = fmt.Errorf("unknown trigger mode %d", trig.Mode)
	}
	if err != nil {
		s.log.Warn("reminder schedule failed", logx.String("kind", k.String()), logx.String("trigger", trig.String()), logx.Err(err))
		return fmt.Errorf("schedule %s: %w", k, err)
	}

	e := Entry{Kind: k, Tag: k.String(), TriggerID: id, Trigger: trig, ScheduledAt: s.cfg.Now()}
	s.reg.Put(e)
	s.log.Info("reminder scheduled", logx.String("kind", k.String()), logx.String("trigger", trig.String()), logx.String("id", id))
	s.publish(eventbus.TypeReminderScheduled, e)
	return nil
}

func (s *Scheduler) ensureAbsentLocked(ctx context.Context, k Kind, reason string) error {
	prev, ok := s.reg.Get(k)
	if !ok {
		return nil
	}
	if err := s.disp.Cancel(ctx, prev.TriggerID); err != nil {
		s.log.Warn("reminder cancel failed; keeping current", logx.String("kind", k.String()), logx.String("id", prev.TriggerID), logx.Err(err))
		return fmt.Errorf("cancel %s: %w", k, err)
	}
	s.reg.Delete(k)
	s.log.Info("reminder cancelled", logx.String("kind", k.String()), logx.String("reason", reason))
	s.publish(eventbus.TypeReminderCancelled, prev)
	return nil
}

func (s *Scheduler) cancelAllLocked(ctx context.Context) error {
	var errs []error
	for _, e := range s.reg.Entries() {
		if err := s.disp.Cancel(ctx, e.TriggerID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", e.Tag, err))
			continue
		}
		s.reg.Delete(e.Kind)
		s.publish(eventbus.TypeReminderCancelled, e)
	}
	if len(errs) > 0 {
		s.log.Warn("cancel all incomplete", logx.Int("failed", len(errs)), logx.Int("remaining", s.reg.Len()))
	} else {
		s.log.Info("all reminders cancelled")
	}
	return errors.Join(errs...)
}

// syncVaccinesLocked schedules one reminder per upcoming vaccine and cancels
// vaccine reminders whose occasion is no longer upcoming. An unreadable
// vaccine list leaves vaccine reminders as they are.
func (s *Scheduler) syncVaccinesLocked(ctx context.Context, in Inputs) error {
	if !in.Settings.Enabled || !in.Settings.VaccineReminder {
		s.forgetVaccineFailuresLocked(nil)
		var errs []error
		for _, k := range s.reg.KindsOf(KindVaccine) {
			if err := s.ensureAbsentLocked(ctx, k, "disabled"); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	if s.events == nil {
		return nil
	}

	vs, err := s.events.UpcomingVaccines(ctx, s.cfg.ChildID, in.Now)
	if err != nil {
		s.log.Warn("vaccine schedule unavailable; keeping vaccine reminders", logx.Err(err))
		return nil
	}

	var errs []error
	seen := map[Kind]bool{}
	for _, v := range vs {
		k := Vaccine(v.Occasion)
		if k.Occasion == "" || seen[k] {
			continue
		}
		seen[k] = true
		vin := in
		vin.Vaccine = v
		if err := s.scheduleLocked(ctx, k, vin); err != nil {
			errs = append(errs, err)
		}
	}
	for _, k := range s.reg.KindsOf(KindVaccine) {
		if seen[k] {
			continue
		}
		if err := s.ensureAbsentLocked(ctx, k, "no longer upcoming"); err != nil {
			errs = append(errs, err)
		}
	}
	s.forgetVaccineFailuresLocked(seen)
	return errors.Join(errs...)
}

// forgetVaccineFailuresLocked drops retry marks for occasions not in keep.
func (s *Scheduler) forgetVaccineFailuresLocked(keep map[Kind]bool) {
	for k := range s.failed {
		if k.Type == KindVaccine && !keep[k] {
			delete(s.failed, k)
		}
	}
}

func (s *Scheduler) inputsLocked(ctx context.Context, st Settings) Inputs {
	now := s.cfg.Now()
	in := Inputs{Settings: st, Now: now, Location: s.cfg.Location}
	if !st.KindEnabled(Feeding()) {
		return in
	}
	if s.patterns != nil {
		in.Pattern = s.patterns.Analyze(ctx, s.cfg.ChildID, now)
	}
	if s.events != nil {
		ev, ok, err := s.events.LastEvent(ctx, s.cfg.ChildID, caregiving.EventFeeding)
		switch {
		case err != nil:
			s.log.Warn("last feeding lookup failed", logx.Err(err))
		case ok:
			in.LastFeeding = ev.At
		}
	}
	return in
}

func (s *Scheduler) currentLocked(ctx context.Context) Settings {
	if s.applied != nil {
		return *s.applied
	}
	return s.settings.Load(ctx)
}

func (s *Scheduler) publish(typ string, e Entry) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: e})
}
