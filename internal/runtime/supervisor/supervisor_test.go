package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstErrorAndCancels(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("worker", func(context.Context) error { return boom })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want %v", err, boom)
	}
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("context not canceled after fatal error")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("worker", func(context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Wait = %v, want recovered panic", err)
	}
}

func TestGoCanceledReturnIsNotAnError(t *testing.T) {
	s := New(context.Background())
	s.Go("worker", func(ctx context.Context) error { return context.Canceled })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait = %v, want nil", err)
	}
}

func TestGoRestartRetriesAfterError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))

	var runs atomic.Int32
	s.GoRestart("loop", func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait = %v, want nil", err)
	}
	if got := runs.Load(); got != 2 {
		t.Fatalf("runs = %d, want 2 (one failure, one clean exit)", got)
	}
	// A retried error is not fatal: siblings keep running.
	if err := s.Err(); err != nil {
		t.Fatalf("Err = %v, want nil for a retried error", err)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	s := New(context.Background())

	var runs atomic.Int32
	s.GoRestart("loop", func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})

	time.Sleep(50 * time.Millisecond)
	s.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait = %v, want nil", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1 (no restart after cancel)", got)
	}
}

func TestActiveCount(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	s.Go("worker", func(context.Context) error {
		<-release
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for s.Active() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Active = %d, want 1", s.Active())
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait = %v", err)
	}
	if s.Active() != 0 {
		t.Fatalf("Active = %d after Wait, want 0", s.Active())
	}
}
