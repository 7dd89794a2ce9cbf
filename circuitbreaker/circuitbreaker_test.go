package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errDown     = errors.New("database is down")
	errNotFound = errors.New("not found")
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker(2, 30*time.Second, IgnoreErrors(errNotFound))
	cb.now = clock.Now
	return cb
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return errDown }); err != errDown {
			t.Fatalf("Expected %v, got %v", errDown, err)
		}
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state %s, got %s", StateOpen, cb.GetState())
	}

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	if err != ErrCircuitOpen {
		t.Errorf("Expected %v, got %v", ErrCircuitOpen, err)
	}
	if called {
		t.Error("Expected function not to run while the circuit is open")
	}
}

func TestCircuitBreaker_IgnoredErrorsDoNotCount(t *testing.T) {
	cb := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func() error { return errNotFound })
		if !errors.Is(err, errNotFound) {
			t.Fatalf("Expected %v, got %v", errNotFound, err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errDown })
	cb.Execute(ctx, func() error { return errDown })

	clock.t = clock.t.Add(31 * time.Second)

	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("Expected trial to succeed, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, cb.GetState())
	}
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errDown })
	cb.Execute(ctx, func() error { return errDown })

	clock.t = clock.t.Add(31 * time.Second)
	cb.Execute(ctx, func() error { return errDown })

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state %s, got %s", StateOpen, cb.GetState())
	}
}

func TestCircuitBreaker_SingleTrialWhileHalfOpen(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errDown })
	cb.Execute(ctx, func() error { return errDown })
	clock.t = clock.t.Add(31 * time.Second)

	err := cb.Execute(ctx, func() error {
		if inner := cb.Execute(ctx, func() error { return nil }); inner != ErrCircuitOpen {
			t.Errorf("Expected concurrent call to be rejected, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected trial to succeed, got %v", err)
	}
}

func TestCircuitBreaker_CanceledContext(t *testing.T) {
	cb := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cb.Execute(ctx, func() error { return nil }); err != context.Canceled {
		t.Errorf("Expected %v, got %v", context.Canceled, err)
	}
}

func TestCircuitBreaker_CallerGivingUpIsNotAFailure(t *testing.T) {
	cb := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		err := cb.Execute(ctx, func() error {
			cancel()
			return errors.New("pq: canceling statement due to user request")
		})
		if err == nil {
			t.Fatal("Expected the call's error to be returned")
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, cb.GetState())
	}
}

func TestCircuitBreaker_CanceledTrialFreesSlot(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errDown })
	cb.Execute(ctx, func() error { return errDown })
	clock.t = clock.t.Add(31 * time.Second)

	trialCtx, cancel := context.WithCancel(ctx)
	cb.Execute(trialCtx, func() error { cancel(); return context.Canceled })
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("Expected state %s, got %s", StateHalfOpen, cb.GetState())
	}

	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("Expected the next trial to run, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, cb.GetState())
	}
}

func TestCircuitBreaker_StaleCallDoesNotDecideHalfOpen(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := NewCircuitBreaker(2, 30*time.Second)
	cb.now = clock.Now
	ctx := context.Background()

	// Admitted while closed, finishes after the circuit went half-open.
	stale, err := cb.before()
	if err != nil || stale {
		t.Fatalf("Expected a plain admission, got trial=%v err=%v", stale, err)
	}

	cb.Execute(ctx, func() error { return errDown })
	cb.Execute(ctx, func() error { return errDown })
	clock.t = clock.t.Add(31 * time.Second)

	trial, err := cb.before()
	if err != nil || !trial {
		t.Fatalf("Expected the trial slot, got trial=%v err=%v", trial, err)
	}

	cb.after(stale, nil)
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected state %s after the stale call, got %s", StateHalfOpen, cb.GetState())
	}
	if err := cb.Execute(ctx, func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("Expected the trial slot to still be held, got %v", err)
	}

	cb.after(trial, nil)
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state %s after the trial, got %s", StateClosed, cb.GetState())
	}
}
