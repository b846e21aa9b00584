package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"carecue/internal/eventbus"
	rtsup "carecue/internal/runtime/supervisor"
	logx "carecue/pkg/logx"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

type dailyDef struct {
	id      string
	payload Payload
	hour    int
	minute  int
	entryID cron.EntryID
}

type onceDef struct {
	id      string
	payload Payload
	at      time.Time
	ver     uint64
	timer   *time.Timer
}

type job struct {
	id      string
	payload Payload
	firedAt time.Time
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	bus  eventbus.Bus
	sink Sink

	parser cron.Parser
	c      *cron.Cron
	daily  map[string]*dailyDef
	once   map[string]*onceDef
	ver    uint64

	limiter *rate.Limiter
	sup     *rtsup.Supervisor

	// qmu guards queue; cron callbacks take it, never mu.
	qmu   sync.Mutex
	queue chan job

	// now is replaceable in tests.
	now func() time.Time
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sink == nil {
		sink = NewLogSink(log)
	}
	s := &Service{
		log:    log,
		bus:    bus,
		sink:   sink,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		daily:  map[string]*dailyDef{},
		once:   map[string]*onceDef{},
		now:    time.Now,
	}
	s.applyLocked(cfg)
	s.loc = s.loadLocationLocked()
	return s
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 64
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Apply updates limits and, on a timezone change, restarts cron so daily
// entries follow the new wall clock.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.applyLocked(cfg)
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	s.loc = s.loadLocationLocked()
	if s.c != nil {
		s.restartLocked()
	}
}

// Location is the wall clock daily entries fire in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Start starts cron and the delivery worker. Entries registered before Start
// begin firing now.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	q := make(chan job, s.cfg.QueueSize)
	s.qmu.Lock()
	s.queue = q
	s.qmu.Unlock()
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "dispatcher"))),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("delivery", func(c context.Context) error {
		s.deliveryLoop(c, q)
		return c.Err()
	}, rtsup.WithPublishFirstError(true))

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.daily {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("daily entry register failed", logx.String("id", d.id), logx.Err(err))
		}
	}
	s.c.Start()
	for _, o := range s.once {
		s.armLocked(o)
	}
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("daily", len(s.daily)), logx.Int("once", len(s.once)))
}

// Stop stops firing. Registrations are kept and resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, o := range s.once {
		if o.timer != nil {
			o.timer.Stop()
			o.timer = nil
		}
	}
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.qmu.Lock()
	if s.queue != nil {
		close(s.queue)
		s.queue = nil
	}
	s.qmu.Unlock()
	if sup != nil {
		if err := sup.Wait(ctx); err != nil {
			sup.Cancel()
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// ScheduleDaily registers a notification firing every day at hour:minute.
func (s *Service) ScheduleDaily(ctx context.Context, hour, minute int, p Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("%w: %02d:%02d", ErrInvalidTime, hour, minute)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingLocked() >= s.cfg.MaxPending {
		return "", ErrLimitExceeded
	}
	d := &dailyDef{id: uuid.NewString(), payload: p, hour: hour, minute: minute}
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			return "", err
		}
	}
	s.daily[d.id] = d
	s.log.Debug("daily entry registered", logx.String("id", d.id), logx.String("kind", p.Kind), logx.String("at", fmt.Sprintf("%02d:%02d", hour, minute)))
	return d.id, nil
}

// ScheduleAt registers a notification firing once at at.
func (s *Service) ScheduleAt(ctx context.Context, at time.Time, p Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if at.IsZero() {
		return "", fmt.Errorf("%w: zero instant", ErrInvalidTime)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingLocked() >= s.cfg.MaxPending {
		return "", ErrLimitExceeded
	}
	s.ver++
	o := &onceDef{id: uuid.NewString(), payload: p, at: at, ver: s.ver}
	s.once[o.id] = o
	if s.c != nil {
		s.armLocked(o)
	}
	s.log.Debug("one-off entry registered", logx.String("id", o.id), logx.String("kind", p.Kind), logx.Time("at", at))
	return o.id, nil
}

// Cancel removes a registration. Unknown ids are not an error.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.daily[id]; ok {
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		delete(s.daily, id)
		s.log.Debug("daily entry cancelled", logx.String("id", id))
		return nil
	}
	if o, ok := s.once[id]; ok {
		if o.timer != nil {
			o.timer.Stop()
		}
		delete(s.once, id)
		s.log.Debug("one-off entry cancelled", logx.String("id", id))
	}
	return nil
}

// ListScheduled returns every pending registration, daily first, then by time.
func (s *Service) ListScheduled(ctx context.Context) ([]Scheduled, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Scheduled, 0, s.pendingLocked())
	for _, d := range s.daily {
		sc := Scheduled{ID: d.id, Payload: d.payload, Daily: true, Hour: d.hour, Minute: d.minute}
		if s.c != nil && d.entryID != 0 {
			sc.Next = s.c.Entry(d.entryID).Next
		}
		out = append(out, sc)
	}
	for _, o := range s.once {
		out = append(out, Scheduled{ID: o.id, Payload: o.payload, At: o.at, Next: o.at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Daily != out[j].Daily {
			return out[i].Daily
		}
		if out[i].Daily {
			if out[i].Hour != out[j].Hour {
				return out[i].Hour < out[j].Hour
			}
			if out[i].Minute != out[j].Minute {
				return out[i].Minute < out[j].Minute
			}
			return out[i].ID < out[j].ID
		}
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Service) pendingLocked() int { return len(s.daily) + len(s.once) }

func (s *Service) addCronLocked(d *dailyDef) error {
	id, p := d.id, d.payload
	eid, err := s.c.AddFunc(fmt.Sprintf("%d %d * * *", d.minute, d.hour), func() {
		s.enqueue(job{id: id, payload: p, firedAt: s.now()})
	})
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// armLocked starts the timer for o. A fired or cancelled entry is removed
// from s.once, so a stale callback finds nothing and returns.
func (s *Service) armLocked(o *onceDef) {
	delay := o.at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	id, ver := o.id, o.ver
	o.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.once[id]
		if !ok || cur.ver != ver {
			s.mu.Unlock()
			return
		}
		delete(s.once, id)
		p := cur.payload
		s.mu.Unlock()
		s.enqueue(job{id: id, payload: p, firedAt: s.now()})
	})
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.daily {
		d.entryID = 0
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("daily entry register failed", logx.String("id", d.id), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("daily", len(s.daily)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
