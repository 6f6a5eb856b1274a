package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"beacon/pkg/logx"
	"beacon/pkg/notify"
)

func TestAddRemove(t *testing.T) {
	hub := notify.New[string]()
	s := New(Config{Enabled: true}, hub, logx.Nop())

	if err := s.Add(Emitter{Name: "tick", Spec: "@every 1m", Event: "clock.tick"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(Emitter{Name: "tick", Spec: "@hourly", Event: "clock.tick"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := s.Names(); len(got) != 1 {
		t.Fatalf("upsert duplicated emitter: %v", got)
	}

	if err := s.Add(Emitter{Name: "bad", Spec: "not a spec", Event: "x"}); err == nil {
		t.Fatalf("invalid spec should be rejected")
	}
	if err := s.Add(Emitter{Spec: "@hourly", Event: "x"}); err == nil {
		t.Fatalf("missing name should be rejected")
	}
	if err := s.Add(Emitter{Name: "n", Spec: "@hourly"}); err == nil {
		t.Fatalf("missing event should be rejected")
	}

	if !s.Remove("tick") {
		t.Fatalf("remove should report existing emitter")
	}
	if s.Remove("tick") {
		t.Fatalf("second remove should report absence")
	}
}

func TestSetEmittersReplacesSet(t *testing.T) {
	hub := notify.New[string]()
	s := New(Config{Enabled: true}, hub, logx.Nop())

	s.SetEmitters([]Emitter{
		{Name: "a", Spec: "@hourly", Event: "x"},
		{Name: "b", Spec: "@daily", Event: "y"},
	})
	s.SetEmitters([]Emitter{
		{Name: "b", Spec: "@daily", Event: "y"},
		{Name: "c", Spec: "@hourly", Event: "z"},
	})
	got := map[string]bool{}
	for _, n := range s.Names() {
		got[n] = true
	}
	if got["a"] || !got["b"] || !got["c"] || len(got) != 2 {
		t.Fatalf("names = %v", got)
	}
}

func TestEmitterFires(t *testing.T) {
	hub := notify.New[string]()
	fired := make(chan []any, 4)
	if _, err := hub.Register("clock.tick", notify.Func[string](func(_ string, args []any) error {
		select {
		case fired <- args:
		default:
		}
		return nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	var runs atomic.Int32
	s := New(Config{Enabled: true}, hub, logx.Nop(), WithRunHook(func(name, event string) {
		runs.Add(1)
	}))
	// 6-field spec: every second.
	if err := s.Add(Emitter{Name: "tick", Spec: "* * * * * *", Event: "clock.tick", Args: []any{"ping"}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Start(ctx)
	t.Cleanup(func() { s.Stop(context.Background()) })

	select {
	case args := <-fired:
		if len(args) != 1 || args[0] != "ping" {
			t.Fatalf("args = %v", args)
		}
	case <-ctx.Done():
		t.Fatalf("emitter did not fire")
	}
	s.Stop(context.Background())
	if runs.Load() == 0 {
		t.Fatalf("run hook not invoked")
	}
}

func TestWithTTLReleasesRegistration(t *testing.T) {
	hub := notify.New[string]()
	l := notify.Func[string](func(string, []any) error { return nil })
	if _, err := hub.Register("x", WithTTL(l, 30*time.Millisecond)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := hub.ListenerCount("x"); got != 1 {
		t.Fatalf("want registered, got %d", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ListenerCount("x") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("TTL did not release the registration")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// The event entry is gone too.
	if got := len(hub.EventNames()); got != 0 {
		t.Fatalf("event entry should be removed, got %d", got)
	}
}

// ttlForwardProbe records whether the inner capability was forwarded.
type ttlForwardProbe struct {
	releases int
}

func (p *ttlForwardProbe) HandleEvent(string, []any) error { return nil }
func (p *ttlForwardProbe) RegisterCleanup(func())          { p.releases++ }

func TestWithTTLForwardsInnerCapability(t *testing.T) {
	hub := notify.New[string]()
	inner := &ttlForwardProbe{}
	if _, err := hub.Register("x", WithTTL[string](inner, time.Hour)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if inner.releases != 1 {
		t.Fatalf("inner capability not forwarded: %d", inner.releases)
	}
	hub.UnregisterAll()
}
