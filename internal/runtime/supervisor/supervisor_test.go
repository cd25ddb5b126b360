package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecoversPanicAndRecordsError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go0("boom", func(ctx context.Context) { panic("kaboom") })

	err := s.Wait(waitCtx(t))
	if !errors.Is(err, ErrPanic) || !strings.Contains(err.Error(), "kaboom") || !strings.HasPrefix(err.Error(), "boom: ") {
		t.Fatalf("Wait err = %v, want panic error", err)
	}
	ws := s.Workers()
	if len(ws) != 1 || ws[0].Name != "boom" || ws[0].Panics != 1 || ws[0].Running {
		t.Fatalf("workers = %+v", ws)
	}
}

func TestGoCanceledIsCleanStop(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop err = %v", err)
	}
	ws := s.Workers()
	if len(ws) != 1 || ws[0].Runs != 1 || ws[0].Running || ws[0].LastError != "" {
		t.Fatalf("workers = %+v", ws)
	}
}

func TestFirstErrorWins(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	first := make(chan struct{})
	s.Go("a", func(ctx context.Context) error { defer close(first); return errors.New("first") })
	s.Go("b", func(ctx context.Context) error { <-first; return errors.New("second") })

	if err := s.Wait(waitCtx(t)); err == nil || err.Error() != "a: first" {
		t.Fatalf("Wait err = %v", err)
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(ctx context.Context) error { return errors.New("nope") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after error")
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait err = %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	for _, w := range s.Workers() {
		if w.Name == "flaky" && (w.Runs != 3 || w.LastError != "transient") {
			t.Fatalf("flaky stats = %+v", w)
		}
	}
}

func TestGoRestartRecoversPanics(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("panicky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("once")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait err = %v", err)
	}
	if runs.Load() != 2 {
		t.Fatalf("runs = %d, want 2", runs.Load())
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "always") {
		t.Fatalf("Wait err = %v, want final error", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want initial run plus 2 restarts", runs.Load())
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.GoRestart("slow", func(ctx context.Context) error {
		return errors.New("fail")
	}, WithRestartBackoff(time.Hour, time.Hour))

	time.Sleep(10 * time.Millisecond)
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop err = %v", err)
	}
}
