package mock

import (
	"context"
	"errors"
	"testing"
)

func TestRuntimeRecordsCalls(t *testing.T) {
	r := &Runtime{}
	stop := make(chan struct{})
	if err := r.Run(context.Background(), "a", stop); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := r.Run(context.Background(), "b", stop); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := r.Calls(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected call log: %v", got)
	}
	if r.CallCount() != 2 {
		t.Fatalf("expected 2 calls, got %d", r.CallCount())
	}
}

func TestRuntimeFuncOverridesBehavior(t *testing.T) {
	r := &Runtime{Func: func(ctx context.Context, body string, stop <-chan struct{}) error {
		return errors.New("boom")
	}}
	if err := r.Run(context.Background(), "x", make(chan struct{})); err == nil {
		t.Fatal("expected Func's error to propagate")
	}
}
