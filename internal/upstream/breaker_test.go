package upstream

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testBreaker(threshold int, timeout time.Duration) (*Breaker, *time.Time) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	b := NewBreaker("/search/Ticket", BreakerConfig{FailureThreshold: threshold, OpenTimeout: timeout}, logger)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := testBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("Call %d should be allowed: %v", i, err)
		}
		b.RecordFailure()
		if b.State() != StateClosed {
			t.Fatalf("Breaker should still be closed after %d failures", i+1)
		}
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("Expected state %s after 5 failures, got %s", StateOpen, b.State())
	}

	err := b.Allow()
	if err == nil {
		t.Fatal("Expected CircuitOpenError while open")
	}
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Expected CircuitOpenError, got %v", err)
	}
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b, now := testBreaker(1, time.Minute)

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("Expected open state, got %s", b.State())
	}

	// not enough time elapsed
	*now = now.Add(30 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatal("Expected call to be rejected before open timeout elapses")
	}

	// timeout elapsed: one trial call allowed
	*now = now.Add(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Expected trial call to be allowed: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("Expected state %s, got %s", StateHalfOpen, b.State())
	}

	// concurrent second call while the trial is in flight is rejected
	if err := b.Allow(); err == nil {
		t.Fatal("Expected second call during half-open trial to be rejected")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, now := testBreaker(1, time.Minute)

	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("Expected trial call to be allowed: %v", err)
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("Expected state %s after trial success, got %s", StateClosed, b.State())
	}
	if b.consecutiveFailures != 0 {
		t.Errorf("Expected consecutiveFailures reset to 0, got %d", b.consecutiveFailures)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := testBreaker(1, time.Minute)

	b.RecordFailure()
	openedAt := b.openedAt

	*now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("Expected trial call to be allowed: %v", err)
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("Expected state %s after trial failure, got %s", StateOpen, b.State())
	}
	if !b.openedAt.After(openedAt) {
		t.Error("Expected openedAt to be reset on re-open")
	}
}

func TestBreaker_NeutralReleasesHalfOpenProbe(t *testing.T) {
	b, now := testBreaker(1, time.Minute)

	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("Expected trial call to be allowed: %v", err)
	}

	// trial ended in an application error: no verdict, probe released
	b.RecordNeutral()
	if b.State() != StateHalfOpen {
		t.Fatalf("Expected state %s after neutral outcome, got %s", StateHalfOpen, b.State())
	}

	// a fresh trial call is admitted immediately
	if err := b.Allow(); err != nil {
		t.Fatalf("Expected new trial call after neutral outcome: %v", err)
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("Expected state %s, got %s", StateClosed, b.State())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Fatalf("Expected breaker to remain closed, got %s", b.State())
	}
}
