package schedule

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"beacon/pkg/logx"
	"beacon/pkg/notify"
)

type Config struct {
	Enabled bool
	// Timezone is an IANA name for cron evaluation. Empty means local time.
	Timezone string
}

// Emitter is one scheduled event source.
type Emitter struct {
	Name  string
	Spec  string
	Event string
	Args  []any
}

// Service owns a cron runner and publishes an event through the hub each
// time an emitter fires. Safe for concurrent use.
type Service struct {
	log logx.Logger
	hub *notify.Hub[string]

	onRun func(name, event string)

	mu      sync.Mutex
	cfg     Config
	parser  cron.Parser
	c       *cron.Cron
	defs    map[string]Emitter
	entries map[string]cron.EntryID
}

type Option func(*Service)

// WithRunHook installs a hook invoked after every emitter run (metrics).
func WithRunHook(fn func(name, event string)) Option {
	return func(s *Service) { s.onRun = fn }
}

func New(cfg Config, hub *notify.Hub[string], log logx.Logger, opts ...Option) *Service {
	s := &Service{
		log: log,
		hub: hub,
		cfg: cfg,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:    map[string]Emitter{},
		entries: map[string]cron.EntryID{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	loc := s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	// Re-register existing definitions (if any).
	for name := range s.defs {
		if err := s.scheduleLocked(name); err != nil {
			s.log.Error("emitter register failed", logx.String("name", name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts the cron runner and waits for in-flight jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

// Apply updates the config. A timezone change restarts the cron runner and
// re-registers every emitter.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.c.Stop()
		s.entries = map[string]cron.EntryID{}
		s.startLocked()
	}
}

// Add upserts an emitter by name. Re-adding a name replaces its schedule.
func (s *Service) Add(em Emitter) error {
	if strings.TrimSpace(em.Name) == "" {
		return errors.New("emitter name required")
	}
	if strings.TrimSpace(em.Event) == "" {
		return errors.New("emitter event required")
	}
	// Reject bad specs up front, before touching state.
	if _, err := s.parser.Parse(em.Spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(em.Name)
	s.defs[em.Name] = em
	if s.c == nil {
		// Not started yet: keep the definition and register on Start().
		return nil
	}
	return s.scheduleLocked(em.Name)
}

// Remove deletes an emitter by name. Reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[name]
	s.removeLocked(name)
	return ok
}

// SetEmitters replaces the full emitter set (config reload).
func (s *Service) SetEmitters(ems []Emitter) {
	s.mu.Lock()
	want := map[string]struct{}{}
	for _, em := range ems {
		want[em.Name] = struct{}{}
	}
	var stale []string
	for name := range s.defs {
		if _, ok := want[name]; !ok {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		s.removeLocked(name)
	}
	s.mu.Unlock()

	for _, em := range ems {
		if err := s.Add(em); err != nil {
			s.log.Error("emitter rejected", logx.String("name", em.Name), logx.String("spec", em.Spec), logx.Err(err))
		}
	}
}

// Names returns the registered emitter names.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for name := range s.defs {
		out = append(out, name)
	}
	return out
}

func (s *Service) removeLocked(name string) {
	if id, ok := s.entries[name]; ok && s.c != nil {
		s.c.Remove(id)
	}
	delete(s.entries, name)
	delete(s.defs, name)
}

func (s *Service) scheduleLocked(name string) error {
	em, ok := s.defs[name]
	if !ok || s.c == nil {
		return nil
	}
	sched, err := s.parser.Parse(em.Spec)
	if err != nil {
		return err
	}
	id := s.c.Schedule(sched, cron.FuncJob(func() { s.run(em) }))
	s.entries[name] = id
	s.log.Debug("emitter registered",
		logx.String("name", em.Name),
		logx.String("spec", em.Spec),
		logx.String("event", em.Event),
		logx.Time("next", sched.Next(time.Now())),
	)
	return nil
}

func (s *Service) run(em Emitter) {
	if err := s.hub.Notify(em.Event, em.Args...); err != nil {
		// Only structural misuse reaches here; listener failures are
		// handled by the hub's reporter.
		s.log.Error("emit failed", logx.String("name", em.Name), logx.String("event", em.Event), logx.Err(err))
		return
	}
	if s.onRun != nil {
		s.onRun(em.Name, em.Event)
	}
	s.log.Trace("emitted", logx.String("name", em.Name), logx.String("event", em.Event))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
