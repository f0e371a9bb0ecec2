package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/dagucloud/scriptd/internal/script"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeEnqueuer) Enqueue(identity, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, identity)
	return "task-" + identity, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestEngineOnceFiresExactlyOnce(t *testing.T) {
	reg := script.NewRegistry(nil, nil)
	s := reg.Upsert("/tmp/a.scr", "CLICK\n")

	enq := &fakeEnqueuer{}
	eng := New(enq, reg, nil)
	eng.Register(s.Identity(), &script.ScheduleSpec{Kind: script.ScheduleOnce})

	deadline := time.Now().Add(time.Second)
	for enq.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond) // give a buggy implementation time to double-fire

	if enq.count() != 1 {
		t.Fatalf("expected exactly 1 enqueue, got %d", enq.count())
	}
}

func TestEngineEveryFiresImmediatelyThenOnInterval(t *testing.T) {
	reg := script.NewRegistry(nil, nil)
	s := reg.Upsert("/tmp/b.scr", "CLICK\n")

	enq := &fakeEnqueuer{}
	eng := New(enq, reg, nil)
	eng.Register(s.Identity(), &script.ScheduleSpec{Kind: script.ScheduleEvery, Interval: 40 * time.Millisecond})
	defer eng.Unregister(s.Identity())

	time.Sleep(150 * time.Millisecond)
	count := enq.count()
	if count < 2 {
		t.Fatalf("expected at least 2 enqueues over 150ms at 40ms interval, got %d", count)
	}
}

func TestEngineSkipsTickWhileRunning(t *testing.T) {
	reg := script.NewRegistry(nil, nil)
	s := reg.Upsert("/tmp/c.scr", "CLICK\n")
	s.SetRunning(true)

	enq := &fakeEnqueuer{}
	eng := New(enq, reg, nil)
	eng.Register(s.Identity(), &script.ScheduleSpec{Kind: script.ScheduleEvery, Interval: 20 * time.Millisecond})
	defer eng.Unregister(s.Identity())

	time.Sleep(100 * time.Millisecond)
	if enq.count() != 0 {
		t.Fatalf("expected all ticks skipped while running, got %d enqueues", enq.count())
	}
}

func TestEngineRegisterReplacesPriorTimerAtomically(t *testing.T) {
	reg := script.NewRegistry(nil, nil)
	s := reg.Upsert("/tmp/d.scr", "CLICK\n")

	enq := &fakeEnqueuer{}
	eng := New(enq, reg, nil)
	eng.Register(s.Identity(), &script.ScheduleSpec{Kind: script.ScheduleEvery, Interval: 500 * time.Millisecond})

	// Replace with a much shorter interval before the first long tick fires.
	eng.Register(s.Identity(), &script.ScheduleSpec{Kind: script.ScheduleEvery, Interval: 20 * time.Millisecond})
	defer eng.Unregister(s.Identity())

	time.Sleep(150 * time.Millisecond)
	if enq.count() < 2 {
		t.Fatalf("expected rearm to the shorter interval to take effect, got %d enqueues", enq.count())
	}
}

func TestEngineUnregisterStopsFutureTicks(t *testing.T) {
	reg := script.NewRegistry(nil, nil)
	s := reg.Upsert("/tmp/e.scr", "CLICK\n")

	enq := &fakeEnqueuer{}
	eng := New(enq, reg, nil)
	eng.Register(s.Identity(), &script.ScheduleSpec{Kind: script.ScheduleEvery, Interval: 20 * time.Millisecond})

	time.Sleep(50 * time.Millisecond)
	eng.Unregister(s.Identity())
	countAtUnregister := enq.count()

	time.Sleep(100 * time.Millisecond)
	if enq.count() != countAtUnregister {
		t.Fatalf("expected no further enqueues after unregister, had %d now %d", countAtUnregister, enq.count())
	}
}
