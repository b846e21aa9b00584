package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carecue/internal/caregiving"
	"carecue/internal/config"
	"carecue/internal/dispatcher"
	"carecue/internal/eventbus"
	"carecue/internal/httpapi"
	"carecue/internal/pattern"
	"carecue/internal/reminder"
	rtsup "carecue/internal/runtime/supervisor"
	"carecue/internal/storage"
	logx "carecue/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
)

// dailyRefreshSpec re-runs the full pass shortly after midnight so vaccine
// reminders and pattern-based feeding times follow the calendar.
const dailyRefreshSpec = "5 0 * * *"

type App struct {
	cfgPath string
	cfg     *config.Config // startup config

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	disp  *dispatcher.Service
	sched *reminder.Scheduler
	queue *reminder.Queue
	http  *httpapi.Server
	cron  *cron.Cron
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	a, err := build(cfg, store, bus, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	a.logs = logSvc
	return a, nil
}

// build wires every component on top of an open store.
func build(cfg *config.Config, store storage.Store, bus eventbus.Bus, log logx.Logger) (*App, error) {
	dcfg, err := mapDispatcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	var sink dispatcher.Sink
	if t := cfg.Telegram; t != nil && t.Enabled {
		ts, err := dispatcher.NewTelegramSink(dispatcher.TelegramConfig{
			Token:    t.Token,
			ChatID:   t.ChatID,
			ThreadID: t.ThreadID,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram sink: %w", err)
		}
		sink = ts
	}
	disp := dispatcher.New(dcfg, sink, log.With(logx.String("comp", "dispatcher")), bus)

	pcfg, err := mapPatternConfig(cfg)
	if err != nil {
		return nil, err
	}
	analyzer := pattern.NewAnalyzer(store, pcfg, log.With(logx.String("comp", "pattern")))

	rlog := log.With(logx.String("comp", "reminder"))
	sched := reminder.NewScheduler(reminder.Config{
		ChildID:  childID(cfg),
		Location: cfg.Reminders.Location(),
	}, reminder.Deps{
		Settings:   reminder.NewSettingsStore(store, rlog),
		Events:     store,
		Patterns:   analyzer,
		Dispatcher: disp,
		Bus:        bus,
		Log:        rlog,
	})
	queue := reminder.NewQueue(cfg.Reminders.QueueSize, rlog)

	a := &App{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		store: store,
		disp:  disp,
		sched: sched,
		queue: queue,
	}

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	if hcfg.Enabled {
		h := httpapi.NewHandler(httpapi.Deps{
			ChildID:   childID(cfg),
			Location:  cfg.Reminders.Location(),
			Reminders: sched,
			Records:   store,
			Queue:     queue,
			Bus:       bus,
			Log:       log.With(logx.String("comp", "http")),
			Health:    a.health,
		})
		a.http = httpapi.NewServer(hcfg, h, log.With(logx.String("comp", "http")))
	}
	return a, nil
}

func (a *App) Scheduler() *reminder.Scheduler { return a.sched }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() map[string]any {
	out := map[string]any{
		"reminders":     len(a.sched.Snapshot()),
		"queue_len":     a.queue.Len(),
		"queue_dropped": a.queue.Dropped(),
	}
	if a.sup != nil {
		out["goroutines"] = a.sup.Counters()
		if err := a.sup.Err(); err != nil {
			out["error"] = err.Error()
		}
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.disp.Start(runCtx)
	a.sup.Go("reminder.queue", a.queue.Run)

	// The startup pass runs before any event-driven work on the same queue.
	cleanup := a.cfg.Reminders.CleanupLegacyEnabled()
	a.queue.Submit("startup", func(c context.Context) error {
		if cleanup {
			n, err := a.sched.CleanupLegacy(c)
			if err != nil {
				a.log.Warn("legacy reminder cleanup incomplete", logx.Int("cancelled", n), logx.Err(err))
			} else if n > 0 {
				a.log.Info("legacy reminders removed", logx.Int("cancelled", n))
			}
		}
		return a.sched.Refresh(c)
	})

	events, unsub := a.bus.Subscribe(64, eventbus.TypeEventLogged)
	a.sup.Go("events.route", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				ev, ok := e.Data.(caregiving.Event)
				if !ok {
					continue
				}
				a.queue.Submit("event.logged", func(c context.Context) error {
					return a.sched.OnEventLogged(c, ev)
				})
			}
		}
	})

	all, unsubAll := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsubAll()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-all:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.cron = cron.New(cron.WithLocation(a.cfg.Reminders.Location()))
	if _, err := a.cron.AddFunc(dailyRefreshSpec, func() {
		a.queue.Submit("daily.refresh", a.sched.Refresh)
	}); err != nil {
		return err
	}
	a.cron.Start()

	if a.http != nil {
		a.http.Start(runCtx)
	}

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
			return nil
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.startWatchdog()

	a.log.Info("app started", logx.String("child_id", childID(a.cfg)))
	return nil
}

// startWatchdog pings systemd when WatchdogSec is set on the unit.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					a.log.Debug("watchdog notify failed", logx.Err(err))
				}
			}
		}
	})
}

// reloadLoop applies hot-reloadable sections. Sections that are read once
// at startup only produce a warning.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	if a.logs != nil {
		a.logs.Apply(mapLogConfig(next))
	}
	if dcfg, err := mapDispatcherConfig(next); err != nil {
		a.log.Warn("invalid dispatcher config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dcfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 2*time.Second, func(c context.Context) error {
		if a.http != nil {
			a.http.Stop(c)
		}
		return nil
	})
	step("cron", time.Second, func(c context.Context) error {
		if a.cron != nil {
			select {
			case <-a.cron.Stop().Done():
			case <-c.Done():
			}
		}
		return nil
	})
	step("dispatcher", 2*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
