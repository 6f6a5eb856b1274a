package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"runtime"
	"strings"
	"testing"
	"time"

	"beacon/internal/journal"
	"beacon/pkg/logx"
	"beacon/pkg/notify"
)

func waitForHTTP(ctx context.Context, url string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		reqCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
		if err != nil {
			cancel()
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err == nil && resp != nil {
			_ = resp.Body.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func getBody(ctx context.Context, t *testing.T, url string) string {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestServerApplyEnableDisable(t *testing.T) {
	srv := NewServer(logx.Nop(), nil, nil)
	t.Cleanup(func() {
		srv.Stop(context.Background())
	})
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		// Avoid leaking profiling knobs across tests.
		_ = runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := Config{
		Enabled:              true,
		Address:              "127.0.0.1:0",
		BlockProfileRate:     1,
		MutexProfileFraction: 7,
	}
	srv.Apply(ctx, cfg)

	addr := srv.Addr()
	if addr == "" {
		t.Fatal("expected ops server to expose address")
	}

	if err := waitForHTTP(ctx, "http://"+addr+"/debug/pprof/"); err != nil {
		t.Fatalf("pprof endpoint not reachable: %v", err)
	}

	if got := runtime.SetMutexProfileFraction(-1); got != cfg.MutexProfileFraction {
		t.Fatalf("mutex profile fraction = %d, want %d", got, cfg.MutexProfileFraction)
	}

	// Disable and ensure the listener shuts down.
	srv.Apply(ctx, Config{Enabled: false})
	if addr := srv.Addr(); addr != "" {
		t.Fatalf("expected ops server to stop, still at %s", addr)
	}
}

type nopListener struct{}

func (nopListener) HandleEvent(string, []any) error { return nil }

type memStore struct {
	entries []journal.Entry
	err     error
}

func (m *memStore) Append(_ context.Context, e journal.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit > len(m.entries) {
		limit = len(m.entries)
	}
	return m.entries[len(m.entries)-limit:], nil
}

func (m *memStore) Close() error { return nil }

func TestFailuresEndpoint(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 3; i++ {
		_ = store.Append(context.Background(), journal.Entry{
			At:    time.Now().UTC(),
			Event: "tick.heartbeat",
			Error: "listener choked",
		})
	}

	srv := NewServer(logx.Nop(), nil, nil)
	srv.SetJournal(store)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Apply(ctx, Config{Enabled: true, Address: "127.0.0.1:0"})
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("no listen address")
	}
	if err := waitForHTTP(ctx, "http://"+addr+"/healthz"); err != nil {
		t.Fatalf("healthz not reachable: %v", err)
	}

	var entries []journal.Entry
	if err := json.Unmarshal([]byte(getBody(ctx, t, "http://"+addr+"/failures?limit=2")), &entries); err != nil {
		t.Fatalf("decode failures: %v", err)
	}
	if len(entries) != 2 || entries[0].Event != "tick.heartbeat" {
		t.Fatalf("entries = %+v, want 2 heartbeat failures", entries)
	}

	// Bad limit is a client error.
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/failures?limit=zero", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFailuresEndpointWithoutJournal(t *testing.T) {
	srv := NewServer(logx.Nop(), nil, nil)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Apply(ctx, Config{Enabled: true, Address: "127.0.0.1:0"})
	addr := srv.Addr()
	if err := waitForHTTP(ctx, "http://"+addr+"/healthz"); err != nil {
		t.Fatalf("healthz not reachable: %v", err)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/failures", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEventsEndpoint(t *testing.T) {
	hub := notify.New[string]()
	if _, err := hub.Register("boot.done", nopListener{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	srv := NewServer(logx.Nop(), hub, NewMetrics(hub))
	t.Cleanup(func() { srv.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Apply(ctx, Config{Enabled: true, Address: "127.0.0.1:0"})
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("no listen address")
	}
	if err := waitForHTTP(ctx, "http://"+addr+"/healthz"); err != nil {
		t.Fatalf("healthz not reachable: %v", err)
	}

	var events map[string]int
	if err := json.Unmarshal([]byte(getBody(ctx, t, "http://"+addr+"/events")), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if events["boot.done"] != 1 {
		t.Fatalf("events = %v, want boot.done:1", events)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	hub := notify.New[string]()
	if _, err := hub.Register("x", nopListener{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m := NewMetrics(hub)
	m.EmitterRuns.WithLabelValues("heartbeat").Inc()

	srv := NewServer(logx.Nop(), hub, m)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Apply(ctx, Config{Enabled: true, Address: "127.0.0.1:0"})
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("no listen address")
	}
	if err := waitForHTTP(ctx, "http://"+addr+"/metrics"); err != nil {
		t.Fatalf("metrics not reachable: %v", err)
	}

	body := getBody(ctx, t, "http://"+addr+"/metrics")
	for _, want := range []string{
		`beacon_emitter_runs_total{emitter="heartbeat"} 1`,
		"beacon_listeners_active 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
