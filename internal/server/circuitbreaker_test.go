package server

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

type flakyHook struct {
	err   error
	calls int
}

func (h *flakyHook) Name() string { return "flaky" }

func (h *flakyHook) FileStored(context.Context, FileDescriptor) error {
	h.calls++
	return h.err
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)
	fail := func() error { return errBackend }

	for i := 0; i < 3; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while open")
	}
	if cb.Rejected() != 1 {
		t.Errorf("Expected 1 rejected call, got %d", cb.Rejected())
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, time.Minute)

	_ = cb.Execute(func() error { return errBackend })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBackend })

	if cb.State() != StateClosed {
		t.Errorf("Expected closed after non-consecutive failures, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("test", 1, 10*time.Second)
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errBackend })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	now = now.Add(11 * time.Second)

	// A failed trial call reopens immediately.
	_ = cb.Execute(func() error { return errBackend })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after failed trial call, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected rejection inside cooldown, got %v", err)
	}

	now = now.Add(11 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Expected trial call to pass, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful trial call, got %s", cb.State())
	}
}

func TestCircuitState_String(t *testing.T) {
	for s, want := range map[CircuitState]string{
		StateClosed:     "closed",
		StateOpen:       "open",
		StateHalfOpen:   "half-open",
		CircuitState(9): "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %s, want %s", s, s.String(), want)
		}
	}
}

func TestWithCircuitBreaker_SkipsHook(t *testing.T) {
	inner := &flakyHook{err: errBackend}
	h := WithCircuitBreaker(inner, 2, time.Minute)

	if h.Name() != "flaky" {
		t.Errorf("Expected wrapped name, got %s", h.Name())
	}

	for i := 0; i < 4; i++ {
		_ = h.FileStored(context.Background(), testDescriptor())
	}
	if inner.calls != 2 {
		t.Errorf("Expected hook to run twice before tripping, ran %d times", inner.calls)
	}

	err := h.FileStored(context.Background(), testDescriptor())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestWithCircuitBreaker_Close(t *testing.T) {
	kp := NewKafkaPublisher("localhost:9092", "uploads")
	h := WithCircuitBreaker(kp, 1, time.Second)

	c, ok := h.(interface{ Close() error })
	if !ok {
		t.Fatal("Expected wrapped hook to expose Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if err := WithCircuitBreaker(&flakyHook{}, 1, time.Second).(interface{ Close() error }).Close(); err != nil {
		t.Errorf("Expected nil Close for hook without resources, got %v", err)
	}
}
