package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"carecue/internal/caregiving"
	"carecue/internal/dispatcher"
	"carecue/internal/pattern"
	logx "carecue/pkg/logx"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	seq     int
	active  map[string]dispatcher.Scheduled
	calls   []string
	failAdd map[string]error // by payload kind
	failDel map[string]error // by trigger id
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		active:  map[string]dispatcher.Scheduled{},
		failAdd: map[string]error{},
		failDel: map[string]error{},
	}
}

func (f *fakeDispatcher) ScheduleDaily(_ context.Context, hour, minute int, p dispatcher.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "daily:"+p.Kind)
	if err := f.failAdd[p.Kind]; err != nil {
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("t%d", f.seq)
	f.active[id] = dispatcher.Scheduled{ID: id, Payload: p, Daily: true, Hour: hour, Minute: minute}
	return id, nil
}

func (f *fakeDispatcher) ScheduleAt(_ context.Context, at time.Time, p dispatcher.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "at:"+p.Kind)
	if err := f.failAdd[p.Kind]; err != nil {
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("t%d", f.seq)
	f.active[id] = dispatcher.Scheduled{ID: id, Payload: p, At: at}
	return id, nil
}

func (f *fakeDispatcher) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "cancel:"+id)
	if err := f.failDel[id]; err != nil {
		return err
	}
	delete(f.active, id)
	return nil
}

func (f *fakeDispatcher) ListScheduled(context.Context) ([]dispatcher.Scheduled, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dispatcher.Scheduled, 0, len(f.active))
	for _, sc := range f.active {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// byKind returns active registrations for a kind tag.
func (f *fakeDispatcher) byKind(tag string) []dispatcher.Scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dispatcher.Scheduled
	for _, sc := range f.active {
		if sc.Payload.Kind == tag {
			out = append(out, sc)
		}
	}
	return out
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

type memKV struct {
	mu     sync.Mutex
	m      map[string][]byte
	getErr error
	setErr error
}

func newMemKV() *memKV { return &memKV{m: map[string][]byte{}} }

func (k *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.getErr != nil {
		return nil, false, k.getErr
	}
	v, ok := k.m[key]
	return v, ok, nil
}

func (k *memKV) Set(_ context.Context, key string, v []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.setErr != nil {
		return k.setErr
	}
	k.m[key] = append([]byte(nil), v...)
	return nil
}

type fakeEvents struct {
	lastFeeding time.Time
	vaccines    []caregiving.Vaccine
	vaccineErr  error
}

func (f *fakeEvents) LastEvent(_ context.Context, _ string, typ caregiving.EventType) (caregiving.Event, bool, error) {
	if typ != caregiving.EventFeeding || f.lastFeeding.IsZero() {
		return caregiving.Event{}, false, nil
	}
	return caregiving.Event{Type: typ, At: f.lastFeeding}, true, nil
}

func (f *fakeEvents) UpcomingVaccines(context.Context, string, time.Time) ([]caregiving.Vaccine, error) {
	return f.vaccines, f.vaccineErr
}

type fixedPattern struct{ d pattern.Data }

func (p fixedPattern) Analyze(context.Context, string, time.Time) pattern.Data { return p.d }

type harness struct {
	s      *Scheduler
	disp   *fakeDispatcher
	kv     *memKV
	events *fakeEvents
}

var testNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, pd pattern.Data) *harness {
	t.Helper()
	h := &harness{disp: newFakeDispatcher(), kv: newMemKV(), events: &fakeEvents{}}
	h.s = NewScheduler(Config{
		ChildID:  "c1",
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	}, Deps{
		Settings:   NewSettingsStore(h.kv, logx.Nop()),
		Events:     h.events,
		Patterns:   fixedPattern{d: pd},
		Dispatcher: h.disp,
		Log:        logx.Nop(),
	})
	return h
}

func feedingInputs(st Settings) Inputs {
	return Inputs{
		Settings:    st,
		FeedingMode: FeedingInterval,
		LastFeeding: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		Now:         testNow,
		Location:    time.UTC,
	}
}

func TestScheduleOrUpdateIntervalScenario(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()

	if err := h.s.ScheduleOrUpdate(ctx, Feeding(), feedingInputs(DefaultSettings())); err != nil {
		t.Fatalf("ScheduleOrUpdate: %v", err)
	}
	regs := h.disp.byKind("feeding")
	if len(regs) != 1 {
		t.Fatalf("feeding registrations = %d, want 1", len(regs))
	}
	want := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	if regs[0].Daily || !regs[0].At.Equal(want) {
		t.Fatalf("registered %+v, want one-off at %s", regs[0], want)
	}
	e, ok := h.s.reg.Get(Feeding())
	if !ok || e.TriggerID != regs[0].ID {
		t.Fatalf("registry entry = %+v ok=%v, want id %s", e, ok, regs[0].ID)
	}
}

func TestScheduleOrUpdateIsIdempotent(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	in := feedingInputs(DefaultSettings())

	for i := 0; i < 3; i++ {
		if err := h.s.ScheduleOrUpdate(ctx, Feeding(), in); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	if n := len(h.disp.byKind("feeding")); n != 1 {
		t.Fatalf("feeding registrations = %d, want 1", n)
	}
	if h.s.reg.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", h.s.reg.Len())
	}
}

func TestScheduleOrUpdatePastInstantIsNeverRegistered(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	in := feedingInputs(DefaultSettings())
	if err := h.s.ScheduleOrUpdate(ctx, Feeding(), in); err != nil {
		t.Fatal(err)
	}

	// Feeding 4h ago with a 3h interval: the one-off would be in the past.
	in.LastFeeding = testNow.Add(-4 * time.Hour)
	if err := h.s.ScheduleOrUpdate(ctx, Feeding(), in); err != nil {
		t.Fatal(err)
	}
	if n := h.disp.count(); n != 0 {
		t.Fatalf("dispatcher holds %d registrations, want 0", n)
	}
	if _, ok := h.s.reg.Get(Feeding()); ok {
		t.Fatal("registry still holds feeding")
	}
}

func TestDisableClearsEachKind(t *testing.T) {
	disable := map[KindType]func(*Settings){
		KindFeeding:      func(s *Settings) { s.FeedingReminder = false },
		KindSleep:        func(s *Settings) { s.SleepReminder = false },
		KindSupplement:   func(s *Settings) { s.SupplementReminder = false },
		KindDailySummary: func(s *Settings) { s.DailySummary = false },
	}
	for _, k := range StaticKinds() {
		t.Run(k.String(), func(t *testing.T) {
			h := newHarness(t, pattern.Data{AvgFeedingHour: intp(7)})
			ctx := context.Background()
			st := DefaultSettings()
			st.DailySummary = true
			in := feedingInputs(st)
			in.FeedingMode = FeedingAuto
			in.Pattern = pattern.Data{AvgFeedingHour: intp(7)}
			if err := h.s.ScheduleOrUpdate(ctx, k, in); err != nil {
				t.Fatal(err)
			}
			if _, ok := h.s.reg.Get(k); !ok {
				t.Fatal("not scheduled")
			}

			disable[k.Type](&in.Settings)
			if err := h.s.ScheduleOrUpdate(ctx, k, in); err != nil {
				t.Fatal(err)
			}
			if _, ok := h.s.reg.Get(k); ok {
				t.Fatal("registry entry survived disable")
			}
			if n := len(h.disp.byKind(k.String())); n != 0 {
				t.Fatalf("dispatcher holds %d registrations after disable", n)
			}
		})
	}
}

func TestMasterDisableClearsEverything(t *testing.T) {
	h := newHarness(t, pattern.Data{AvgFeedingHour: intp(7)})
	h.events.vaccines = []caregiving.Vaccine{{ChildID: "c1", Occasion: "hepb-2", DueDate: testNow.AddDate(0, 1, 0)}}
	ctx := context.Background()

	if err := h.s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if h.s.reg.Len() != 4 { // feeding, sleep, supplement, vaccine
		t.Fatalf("registry len = %d, want 4: %+v", h.s.reg.Len(), h.s.Snapshot())
	}

	off := false
	if _, err := h.s.UpdateSettings(ctx, SettingsPatch{Enabled: &off}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if h.s.reg.Len() != 0 || h.disp.count() != 0 {
		t.Fatalf("after master off: registry %d, dispatcher %d", h.s.reg.Len(), h.disp.count())
	}

	on := true
	if _, err := h.s.UpdateSettings(ctx, SettingsPatch{Enabled: &on}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if h.s.reg.Len() != 4 {
		t.Fatalf("after master on: registry len = %d, want 4", h.s.reg.Len())
	}
}

func TestRescheduleOnlyTouchesChangedKinds(t *testing.T) {
	h := newHarness(t, pattern.Data{AvgFeedingHour: intp(7)})
	ctx := context.Background()
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	before := map[string]string{}
	for _, e := range h.s.Snapshot() {
		before[e.Tag] = e.TriggerID
	}

	sleep := TimeOfDay("21:15")
	if _, err := h.s.UpdateSettings(ctx, SettingsPatch{SleepTime: &sleep}); err != nil {
		t.Fatal(err)
	}
	after := map[string]string{}
	for _, e := range h.s.Snapshot() {
		after[e.Tag] = e.TriggerID
	}

	if before["sleep"] == after["sleep"] {
		t.Fatal("sleep reminder not rescheduled")
	}
	for _, tag := range []string{"feeding", "supplement"} {
		if before[tag] != after[tag] {
			t.Fatalf("%s rescheduled although its settings did not change", tag)
		}
	}
	regs := h.disp.byKind("sleep")
	if len(regs) != 1 || regs[0].Hour != 21 || regs[0].Minute != 15 {
		t.Fatalf("sleep registrations = %+v, want one at 21:15", regs)
	}
}

func TestRescheduleNoChangeIsNoop(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	calls := len(h.disp.calls)
	if err := h.s.RescheduleFromSettingsChange(ctx, h.s.Settings(ctx)); err != nil {
		t.Fatal(err)
	}
	if len(h.disp.calls) != calls {
		t.Fatalf("dispatcher called %d times for unchanged settings", len(h.disp.calls)-calls)
	}
}

func TestScheduleFailureLeavesNoEntry(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	h.disp.failAdd["sleep"] = errors.New("permission revoked")
	ctx := context.Background()

	err := h.s.ScheduleOrUpdate(ctx, Sleep(), Inputs{Settings: DefaultSettings()})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := h.s.reg.Get(Sleep()); ok {
		t.Fatal("failed schedule left a registry entry")
	}
}

func TestCancelFailureKeepsEntry(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	in := Inputs{Settings: DefaultSettings()}
	if err := h.s.ScheduleOrUpdate(ctx, Sleep(), in); err != nil {
		t.Fatal(err)
	}
	e, _ := h.s.reg.Get(Sleep())
	h.disp.failDel[e.TriggerID] = errors.New("dispatcher busy")

	in.Settings.SleepTime = "21:00"
	if err := h.s.ScheduleOrUpdate(ctx, Sleep(), in); err == nil {
		t.Fatal("expected error")
	}
	got, ok := h.s.reg.Get(Sleep())
	if !ok || got.TriggerID != e.TriggerID {
		t.Fatalf("registry = %+v ok=%v, want unchanged %s", got, ok, e.TriggerID)
	}
	if n := len(h.disp.byKind("sleep")); n != 1 {
		t.Fatalf("sleep registrations = %d, want 1 (no duplicate)", n)
	}
}

func TestCancelAllPartialFailure(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	e, _ := h.s.reg.Get(Supplement())
	h.disp.failDel[e.TriggerID] = errors.New("busy")

	if err := h.s.CancelAll(ctx); err == nil {
		t.Fatal("expected joined error")
	}
	snap := h.s.Snapshot()
	if len(snap) != 1 || snap[0].Kind != Supplement() {
		t.Fatalf("snapshot = %+v, want only supplement", snap)
	}
}

func TestOnEventLoggedSchedulesIntervalFeeding(t *testing.T) {
	h := newHarness(t, pattern.Data{AvgFeedingHour: intp(7)})
	ctx := context.Background()
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if regs := h.disp.byKind("feeding"); len(regs) != 1 || !regs[0].Daily {
		t.Fatalf("feeding after refresh = %+v, want one daily", regs)
	}

	fed := time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC)
	if err := h.s.OnEventLogged(ctx, caregiving.Event{ChildID: "c1", Type: caregiving.EventFeeding, At: fed}); err != nil {
		t.Fatal(err)
	}
	regs := h.disp.byKind("feeding")
	if len(regs) != 1 || regs[0].Daily || !regs[0].At.Equal(fed.Add(3*time.Hour)) {
		t.Fatalf("feeding after event = %+v, want one-off at 11:30", regs)
	}
}

func TestOnEventLoggedIgnoresOtherEvents(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	for _, ev := range []caregiving.Event{
		{ChildID: "c1", Type: caregiving.EventDiaper, At: testNow},
		{ChildID: "c1", Type: caregiving.EventFeeding},
		{ChildID: "other", Type: caregiving.EventFeeding, At: testNow},
	} {
		if err := h.s.OnEventLogged(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(h.disp.calls); n != 0 {
		t.Fatalf("dispatcher called %d times", n)
	}
}

func TestVaccineSync(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	h.events.vaccines = []caregiving.Vaccine{
		{ChildID: "c1", Occasion: "hepb-2", DueDate: testNow.AddDate(0, 0, 30)},
		{ChildID: "c1", Occasion: "mmr-1", DueDate: testNow.AddDate(0, 0, 60)},
		{ChildID: "c1", Occasion: "soon", DueDate: testNow.AddDate(0, 0, 3)}, // lead time already passed
	}
	ctx := context.Background()
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(h.s.reg.KindsOf(KindVaccine)); got != 2 {
		t.Fatalf("vaccine reminders = %d, want 2", got)
	}

	h.events.vaccines = h.events.vaccines[1:2]
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	kinds := h.s.reg.KindsOf(KindVaccine)
	if len(kinds) != 1 || kinds[0] != Vaccine("mmr-1") {
		t.Fatalf("vaccine reminders = %v, want [vaccine:mmr-1]", kinds)
	}
	if n := len(h.disp.byKind("vaccine:hepb-2")); n != 0 {
		t.Fatalf("hepb-2 still registered %d times", n)
	}
}

func TestVaccineListErrorKeepsReminders(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	h.events.vaccines = []caregiving.Vaccine{{ChildID: "c1", Occasion: "hepb-2", DueDate: testNow.AddDate(0, 0, 30)}}
	ctx := context.Background()
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	h.events.vaccineErr = errors.New("offline")
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatalf("advisory failure surfaced: %v", err)
	}
	if _, ok := h.s.reg.Get(Vaccine("hepb-2")); !ok {
		t.Fatal("vaccine reminder dropped on list error")
	}
}

func TestCleanupLegacyRunsOnce(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	for _, tag := range []string{"feeding_old", "water", "sleep"} {
		if _, err := h.disp.ScheduleDaily(ctx, 8, 0, dispatcher.Payload{Kind: tag}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := h.s.CleanupLegacy(ctx)
	if err != nil || n != 2 {
		t.Fatalf("CleanupLegacy = %d, %v; want 2, nil", n, err)
	}
	if h.disp.count() != 1 || len(h.disp.byKind("sleep")) != 1 {
		t.Fatalf("remaining = %d, want only sleep", h.disp.count())
	}

	if _, err := h.disp.ScheduleDaily(ctx, 8, 0, dispatcher.Payload{Kind: "water"}); err != nil {
		t.Fatal(err)
	}
	n, err = h.s.CleanupLegacy(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second CleanupLegacy = %d, %v; want 0, nil", n, err)
	}
}

func TestCleanupLegacyRetriesAfterFailure(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	id, _ := h.disp.ScheduleDaily(ctx, 8, 0, dispatcher.Payload{Kind: "water"})
	h.disp.failDel[id] = errors.New("busy")

	if _, err := h.s.CleanupLegacy(ctx); err == nil {
		t.Fatal("expected error")
	}
	delete(h.disp.failDel, id)
	n, err := h.s.CleanupLegacy(ctx)
	if err != nil || n != 1 {
		t.Fatalf("retry = %d, %v; want 1, nil", n, err)
	}
}

func TestConcurrentPassesLeaveNoOrphans(t *testing.T) {
	h := newHarness(t, pattern.Data{AvgFeedingHour: intp(7)})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _ = h.s.Refresh(ctx) }()
		go func() {
			defer wg.Done()
			_ = h.s.OnEventLogged(ctx, caregiving.Event{Type: caregiving.EventFeeding, At: testNow.Add(-30 * time.Minute)})
		}()
		go func(i int) {
			defer wg.Done()
			tod := TimeOfDay(fmt.Sprintf("20:%02d", i))
			_, _ = h.s.UpdateSettings(ctx, SettingsPatch{SleepTime: &tod})
		}(i)
	}
	wg.Wait()

	snap := h.s.Snapshot()
	if h.disp.count() != len(snap) {
		t.Fatalf("dispatcher holds %d registrations, registry %d", h.disp.count(), len(snap))
	}
	for _, e := range snap {
		if n := len(h.disp.byKind(e.Tag)); n != 1 {
			t.Fatalf("%s registered %d times", e.Tag, n)
		}
	}
}

func TestUpdateSettingsRejectsInvalidPatch(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	calls := len(h.disp.calls)

	bad := 7
	st, err := h.s.UpdateSettings(ctx, SettingsPatch{FeedingIntervalHours: &bad})
	if !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("err = %v, want ErrInvalidSettings", err)
	}
	if st.FeedingIntervalHours != 3 {
		t.Fatalf("returned interval = %d, want 3", st.FeedingIntervalHours)
	}
	if len(h.disp.calls) != calls {
		t.Fatal("invalid patch touched the dispatcher")
	}
}

func TestUpdateSettingsPersistFailureStillReschedules(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	h.kv.setErr = errors.New("disk full")

	off := false
	st, err := h.s.UpdateSettings(ctx, SettingsPatch{SleepReminder: &off})
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if st.SleepReminder {
		t.Fatal("merged settings not returned")
	}
	if _, ok := h.s.reg.Get(Sleep()); ok {
		t.Fatal("sleep reminder not cancelled")
	}
}

func TestResetSettingsRestoresDefaults(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	off := false
	if _, err := h.s.UpdateSettings(ctx, SettingsPatch{SleepReminder: &off}); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.s.reg.Get(Sleep()); ok {
		t.Fatal("sleep reminder not cancelled")
	}

	st, err := h.s.ResetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st != DefaultSettings() {
		t.Fatalf("settings = %+v", st)
	}
	if _, ok := h.s.reg.Get(Sleep()); !ok {
		t.Fatal("sleep reminder not restored")
	}
}

func TestRefreshKeepsUnpersistedSettings(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	h.kv.setErr = errors.New("disk full")

	off := false
	if _, err := h.s.UpdateSettings(ctx, SettingsPatch{SupplementReminder: &off}); !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if err := h.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if h.s.Settings(ctx).SupplementReminder {
		t.Fatal("settings reverted to the stored record")
	}
	if _, ok := h.s.reg.Get(Supplement()); ok {
		t.Fatal("supplement reminder re-registered by refresh")
	}
	if n := len(h.disp.byKind("supplement")); n != 0 {
		t.Fatalf("dispatcher holds %d supplement registrations", n)
	}
}

func TestRescheduleRetriesFailedKind(t *testing.T) {
	h := newHarness(t, pattern.Data{})
	ctx := context.Background()
	h.disp.failAdd["sleep"] = dispatcher.ErrLimitExceeded

	if err := h.s.Refresh(ctx); err == nil {
		t.Fatal("expected sleep scheduling error")
	}
	if _, ok := h.s.reg.Get(Sleep()); ok {
		t.Fatal("failed kind registered")
	}

	delete(h.disp.failAdd, "sleep")
	if err := h.s.RescheduleFromSettingsChange(ctx, h.s.Settings(ctx)); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.s.reg.Get(Sleep()); !ok {
		t.Fatal("sleep not retried with unchanged settings")
	}

	calls := len(h.disp.calls)
	if err := h.s.RescheduleFromSettingsChange(ctx, h.s.Settings(ctx)); err != nil {
		t.Fatal(err)
	}
	if len(h.disp.calls) != calls {
		t.Fatal("recovered kind retried again")
	}
}
