package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dagucloud/scriptd/internal/eventbus"
	"github.com/dagucloud/scriptd/internal/runtime/mock"
	"github.com/dagucloud/scriptd/internal/script"
)

func setup(t *testing.T, cfg Config, rt *mock.Runtime) (*Queue, *script.Registry, *eventbus.Bus, context.CancelFunc) {
	t.Helper()
	reg := script.NewRegistry(nil, nil)
	bus := eventbus.New(nil)
	q := New(cfg, reg, rt, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	return q, reg, bus, cancel
}

func waitFor(t *testing.T, sub *eventbus.Subscription, kind Kind, timeout time.Duration) LifecycleEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sub.Events():
			le, ok := ev.Data.(LifecycleEvent)
			if ok && le.Kind == kind {
				return le
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestQueueSuccessEmitsQueuedStartedCompleted(t *testing.T) {
	rt := &mock.Runtime{}
	q, reg, bus, cancel := setup(t, Config{}, rt)
	defer cancel()

	sub := bus.Subscribe(eventbus.TopicTask)
	defer sub.Unsubscribe()

	s := reg.Upsert("/tmp/a.scr", "CLICK\n")

	taskID, err := q.Enqueue(s.Identity(), s.Body())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, sub, Queued, time.Second)
	waitFor(t, sub, Started, time.Second)
	completed := waitFor(t, sub, Completed, time.Second)

	if completed.TaskID != taskID {
		t.Fatalf("expected task id %s, got %s", taskID, completed.TaskID)
	}
	if s.IsRunning() {
		t.Fatal("expected script to be idle after completion")
	}
}

func TestQueueRetriesThenAbandons(t *testing.T) {
	var calls int32
	rt := &mock.Runtime{Func: func(ctx context.Context, body string, stop <-chan struct{}) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}}
	q, reg, bus, cancel := setup(t, Config{MaxRetries: 2, RetryDelay: 10 * time.Millisecond}, rt)
	defer cancel()

	sub := bus.Subscribe(eventbus.TopicTask)
	defer sub.Unsubscribe()

	s := reg.Upsert("/tmp/crash.scr", "CRASH\n")
	_, err := q.Enqueue(s.Identity(), s.Body())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, sub, Queued, time.Second)
	waitFor(t, sub, Started, time.Second)
	errEv := waitFor(t, sub, Error, 2*time.Second)

	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 1 initial + 2 retries = 3 attempts, got %d", calls)
	}
	if errEv.Error == "" {
		t.Fatal("expected error text on final error event")
	}
	if s.Snapshot().ErrorCount != 3 {
		t.Fatalf("expected errorCount to track every attempt, got %d", s.Snapshot().ErrorCount)
	}
}

func TestQueueStopAbandonsAfterGrace(t *testing.T) {
	started := make(chan struct{})
	rt := &mock.Runtime{Func: func(ctx context.Context, body string, stop <-chan struct{}) error {
		close(started)
		<-stop
		// Deliberately never return, to exercise the grace-period abandon path.
		select {}
	}}
	q, reg, bus, cancel := setup(t, Config{StopGrace: 50 * time.Millisecond}, rt)
	defer cancel()

	sub := bus.Subscribe(eventbus.TopicTask)
	defer sub.Unsubscribe()

	s := reg.Upsert("/tmp/hang.scr", "HANG\n")
	taskID, err := q.Enqueue(s.Identity(), s.Body())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, sub, Queued, time.Second)
	waitFor(t, sub, Started, time.Second)
	<-started

	if !q.Stop(taskID) {
		t.Fatal("expected Stop to find the active task")
	}

	errEv := waitFor(t, sub, Error, time.Second)
	if errEv.TaskID != taskID {
		t.Fatalf("expected error event for %s, got %s", taskID, errEv.TaskID)
	}
}

func TestQueueUnknownScriptIsDropped(t *testing.T) {
	rt := &mock.Runtime{}
	q, _, bus, cancel := setup(t, Config{}, rt)
	defer cancel()

	sub := bus.Subscribe(eventbus.TopicTask)
	defer sub.Unsubscribe()

	if _, err := q.Enqueue("unknown-identity", "CLICK\n"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, sub, Queued, time.Second)

	// No started/completed/error should ever follow for an unknown script.
	select {
	case ev := <-sub.Events():
		le := ev.Data.(LifecycleEvent)
		t.Fatalf("unexpected follow-up event for unknown script: %+v", le)
	case <-time.After(200 * time.Millisecond):
	}
	if rt.CallCount() != 0 {
		t.Fatalf("expected runtime never invoked for unknown script, got %d calls", rt.CallCount())
	}
}
