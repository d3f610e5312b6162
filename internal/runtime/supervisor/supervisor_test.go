package supervisor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func waitState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", s.State(), want)
}

func TestWorkerErrorCancelsEverything(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.MarkRunning()

	peerStopped := make(chan struct{})
	s.GoWorker("peer", func(ctx context.Context) error {
		<-ctx.Done()
		close(peerStopped)
		return ctx.Err()
	})

	boom := errors.New("boom")
	s.GoWorker("dying", func(ctx context.Context) error { return boom })

	select {
	case <-peerStopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("peer worker was not signaled to stop after sibling death")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want wrapped %v", err, boom)
	}
	if s.State() != StateTerminated {
		t.Fatalf("State() = %v, want %v", s.State(), StateTerminated)
	}
}

func TestWorkerCleanExitStillShutsDown(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.MarkRunning()
	s.GoWorker("finished", func(ctx context.Context) error { return nil })

	waitState(t, s, StateShuttingDown)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatalf("Wait() = nil, want an error for a worker loop that exited on its own")
	}
}

func TestWorkerPanicBecomesError(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.GoWorker("panicky", func(ctx context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatalf("Wait() = nil, want panic error")
	}
}

func TestShutdownDrivenReturnIsClean(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.MarkRunning()
	s.GoWorker("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	s.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v, want nil for externally requested shutdown", err)
	}
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background())
	if got := s.State(); got != StateStarting {
		t.Fatalf("State() = %v, want %v", got, StateStarting)
	}
	s.MarkRunning()
	if got := s.State(); got != StateRunning {
		t.Fatalf("State() = %v, want %v", got, StateRunning)
	}
	s.Cancel()
	if got := s.State(); got != StateShuttingDown {
		t.Fatalf("State() = %v, want %v", got, StateShuttingDown)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := s.State(); got != StateTerminated {
		t.Fatalf("State() = %v, want %v", got, StateTerminated)
	}
}

func TestFirstErrorWins(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	first := errors.New("first")
	s.Go("a", func(ctx context.Context) error { return first })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, first) {
		t.Fatalf("Wait() = %v, want wrapped %v", err, first)
	}

	// Later failures must not replace the first recorded error.
	s.setErr(fmt.Errorf("second"))
	if err := s.Err(); !errors.Is(err, first) {
		t.Fatalf("Err() = %v, want wrapped %v", err, first)
	}
}

func TestGoRestartRecoversUntilCancel(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background())
	runs := make(chan struct{}, 8)
	s.GoRestart("flaky", func(ctx context.Context) error {
		select {
		case runs <- struct{}{}:
		default:
		}
		return errors.New("transient")
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	for i := 0; i < 3; i++ {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatalf("restartable goroutine ran %d times, want at least 3", i)
		}
	}

	s.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v, want nil (restart errors are not published by default)", err)
	}
}

func TestCountersTrackActiveGoroutines(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background())
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		s.Go(fmt.Sprintf("g%d", i), func(ctx context.Context) error {
			<-release
			return nil
		})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Counters().Active == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got := s.Counters(); got.Active != 3 || got.Started != 3 {
		t.Fatalf("Counters() = %+v, want active=3 started=3", got)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := s.Counters().Active; got != 0 {
		t.Fatalf("Counters().Active = %d, want 0", got)
	}
}
