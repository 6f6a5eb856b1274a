// Package app assembles the daemon: config manager, logging service,
// notification hub, failure journal, scheduled emitters, sinks and the
// ops server, with hot-reload over fsnotify.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"beacon/internal/config"
	"beacon/internal/journal"
	"beacon/internal/ops"
	"beacon/internal/report"
	rtsup "beacon/internal/runtime/supervisor"
	"beacon/internal/schedule"
	telegram "beacon/internal/sinks/telegram"
	"beacon/pkg/logx"
	"beacon/pkg/notify"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	hub     *notify.Hub[string]
	store   journal.Store
	metrics *ops.Metrics
	opsSrv  *ops.Server
	sched   *schedule.Service

	tgMu sync.Mutex
	tg   *telegram.Sink
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogxConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	// Journal (optional)
	jcfg, err := mapJournalConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := journal.Open(jcfg, log.With(logx.String("comp", "journal")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("journal enabled", logx.String("driver", jcfg.Driver))
	}

	hub := notify.New[string](notify.WithLogger[string](log.With(logx.String("comp", "hub"))))
	metrics := ops.NewMetrics(hub)

	// Failure reports go to the log, the journal (throttled) and metrics.
	reporters := []notify.Reporter[string]{
		report.Logged[string](log.With(logx.String("comp", "dispatch"))),
		func(event string, _ notify.Listener[string], _ *notify.ListenerError) {
			metrics.ListenerFailures.WithLabelValues(event).Inc()
		},
	}
	if store != nil {
		reporters = append(reporters,
			report.Limited(reportRate(cfg), report.Journaled[string](store, log)))
	}
	hub.SetReporter(report.Fanout(reporters...))

	schedSvc := schedule.New(schedule.Config{
		Enabled:  len(cfg.Emitters) > 0,
		Timezone: cfg.Timezone,
	}, hub, log.With(logx.String("comp", "schedule")),
		schedule.WithRunHook(func(name, _ string) {
			metrics.EmitterRuns.WithLabelValues(name).Inc()
			metrics.NotifyTotal.Inc()
		}))
	schedSvc.SetEmitters(mapEmitters(cfg))

	opsSrv := ops.NewServer(log, hub, metrics)
	if store != nil {
		opsSrv.SetJournal(store)
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		hub:     hub,
		store:   store,
		metrics: metrics,
		opsSrv:  opsSrv,
		sched:   schedSvc,
	}, nil
}

// Hub exposes the notification hub so callers can attach their own
// listeners before Start.
func (a *App) Hub() *notify.Hub[string] { return a.hub }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	cfg := a.cfgm.Get()
	a.opsSrv.Apply(a.sup.Context(), mapOpsConfig(cfg))
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if err := a.applyTelegram(cfg); err != nil {
		return err
	}

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections := config.ChangedSections(lastApplied, newCfg)
				lastApplied = newCfg
				a.applyReload(c, newCfg, sections)
			}
		}
	})

	// Restart the watcher with backoff if it ever dies unexpectedly; a
	// daemon that silently stops reloading config is worse than one that
	// retries.
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config, sections []string) {
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Debug("config change summary", logx.String("changed", strings.Join(sections, ",")))

	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if changed("logging") {
		a.logs.Apply(mapLogxConfig(cfg))
	}
	if changed("ops") {
		a.opsSrv.Apply(ctx, mapOpsConfig(cfg))
	}
	if changed("journal") || changed("report") {
		// The journal and its reporter chain are wired at construction.
		a.log.Warn("journal/report config changed; restart required for changes to take effect")
	}
	if changed("emitters") || changed("timezone") {
		prevEnabled := a.sched.Enabled()
		a.sched.Apply(schedule.Config{
			Enabled:  len(cfg.Emitters) > 0,
			Timezone: cfg.Timezone,
		})
		a.sched.SetEmitters(mapEmitters(cfg))
		if !prevEnabled && a.sched.Enabled() {
			a.sched.Start(ctx)
		} else if prevEnabled && !a.sched.Enabled() {
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		}
	}
	if changed("telegram") {
		if err := a.applyTelegram(cfg); err != nil {
			a.log.Warn("invalid telegram config; sink detached", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

// applyTelegram replaces the Telegram sink. Closing the old sink runs the
// release handles the hub delegated to it, so re-registration never
// duplicates listeners.
func (a *App) applyTelegram(cfg *config.Config) error {
	a.tgMu.Lock()
	defer a.tgMu.Unlock()

	if a.tg != nil {
		a.tg.Close()
		a.tg = nil
	}

	tcfg, ttl, err := mapTelegramConfig(cfg)
	if err != nil {
		return err
	}
	if cfg.Telegram == nil || !cfg.Telegram.Enabled {
		return nil
	}

	sink, err := telegram.New(tcfg, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	var l notify.Listener[string] = sink
	if ttl > 0 {
		l = schedule.WithTTL(l, ttl)
	}
	for _, ev := range cfg.Telegram.Events {
		if _, err := a.hub.Register(ev, l); err != nil {
			sink.Close()
			return fmt.Errorf("register telegram sink on %q: %w", ev, err)
		}
	}
	a.tg = sink
	a.log.Info("telegram sink attached",
		logx.Int("events", len(cfg.Telegram.Events)), logx.Duration("ttl", ttl))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component cannot
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("telegram", 2*time.Second, func(context.Context) error {
		a.tgMu.Lock()
		defer a.tgMu.Unlock()
		if a.tg != nil {
			a.tg.Close()
			a.tg = nil
		}
		return nil
	})
	step("schedule", 2*time.Second, func(c context.Context) error {
		a.sched.Stop(c)
		return nil
	})
	step("ops", 2*time.Second, func(c context.Context) error {
		a.opsSrv.Stop(c)
		return nil
	})
	step("hub", time.Second, func(context.Context) error {
		a.hub.UnregisterAll()
		return nil
	})
	if a.store != nil {
		step("journal", 2*time.Second, func(context.Context) error {
			return a.store.Close()
		})
	}

	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	err := a.sup.Wait(waitCtx)

	a.log.Info("stopped")
	a.logs.Close()
	return err
}
