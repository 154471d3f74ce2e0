package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Waridley/crumbeez/shared/resilience"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker("backend", 3, time.Minute)
	boom := errors.New("boom")

	for range 3 {
		if !cb.Allow() {
			t.Fatal("breaker must allow calls while closed")
		}
		cb.RecordResult(boom)
	}

	if cb.State() != resilience.CircuitOpen {
		t.Errorf("expected open state after 3 consecutive failures, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("an open breaker must reject calls")
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker("backend", 3, time.Minute)
	boom := errors.New("boom")

	cb.RecordResult(boom)
	cb.RecordResult(boom)
	cb.RecordResult(nil)
	cb.RecordResult(boom)
	cb.RecordResult(boom)

	if cb.State() != resilience.CircuitClosed {
		t.Errorf("a success must reset the failure run, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpensAfterResetTimeout(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker("backend", 1, 10*time.Millisecond)
	cb.RecordResult(errors.New("boom"))

	if cb.Allow() {
		t.Fatal("breaker must be open immediately after tripping")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("breaker must allow a probe after the reset timeout")
	}
	cb.RecordResult(nil)
	if cb.State() != resilience.CircuitClosed {
		t.Errorf("a successful probe must close the breaker, got %v", cb.State())
	}
}
