package backoff

import (
	"context"
	"testing"
	"time"
)

func TestNewTaskRetryPolicyFixed(t *testing.T) {
	policy := NewTaskRetryPolicy(50*time.Millisecond, 3, false)
	for i := 0; i < 3; i++ {
		interval, err := policy.ComputeNextInterval(i, 0, nil)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if interval != 50*time.Millisecond {
			t.Fatalf("attempt %d: expected fixed 50ms, got %v", i, interval)
		}
	}
	if _, err := policy.ComputeNextInterval(3, 0, nil); err != ErrRetriesExhausted {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestNewTaskRetryPolicyExponentialNeverBelowFloor(t *testing.T) {
	floor := 100 * time.Millisecond
	policy := NewTaskRetryPolicy(floor, 5, true)
	for i := 0; i < 5; i++ {
		interval, err := policy.ComputeNextInterval(i, 0, nil)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if interval < floor {
			t.Fatalf("attempt %d: interval %v fell below floor %v", i, interval, floor)
		}
	}
}

func TestRetrierHonorsContextCancellation(t *testing.T) {
	r := NewRetrier(NewTaskRetryPolicy(time.Hour, 0, false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Next(ctx, nil); err != ErrOperationCanceled {
		t.Fatalf("expected ErrOperationCanceled, got %v", err)
	}
}
