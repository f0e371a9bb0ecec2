package script

import (
	"sync"
	"testing"
)

type fakeScheduler struct {
	mu        sync.Mutex
	registers map[string]*ScheduleSpec
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{registers: make(map[string]*ScheduleSpec)}
}

func (f *fakeScheduler) Register(identity string, spec *ScheduleSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers[identity] = spec
}

func (f *fakeScheduler) Unregister(identity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registers, identity)
}

func TestRegistryUpsertAddsNewScript(t *testing.T) {
	sched := newFakeScheduler()
	r := NewRegistry(nil, sched)

	s := r.Upsert("/tmp/scripts/A.scr", "// @schedule every 5s\nCLICK\n")
	if s.Name() != "A" {
		t.Fatalf("expected display name A, got %q", s.Name())
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 tracked script, got %d", r.Len())
	}
	if _, ok := sched.registers[s.Identity()]; !ok {
		t.Fatal("expected scheduler to be armed for new script")
	}
}

func TestRegistryUpsertUpdatesExistingAndRearms(t *testing.T) {
	sched := newFakeScheduler()
	r := NewRegistry(nil, sched)

	r.Upsert("/tmp/scripts/a.scr", "// @schedule every 30s\nCLICK\n")
	s := r.Upsert("/tmp/scripts/a.scr", "// @schedule every 5s\nCLICK\n")

	if r.Len() != 1 {
		t.Fatalf("expected same record reused, got %d scripts", r.Len())
	}
	if sched.registers[s.Identity()].Interval.String() != "5s" {
		t.Fatalf("expected rearm to 5s, got %v", sched.registers[s.Identity()])
	}
}

func TestRegistryUpsertDefersRearmWhileRunning(t *testing.T) {
	sched := newFakeScheduler()
	r := NewRegistry(nil, sched)

	s := r.Upsert("/tmp/scripts/a.scr", "// @schedule every 30s\nCLICK\n")
	s.SetRunning(true)

	r.Upsert("/tmp/scripts/a.scr", "// @schedule every 5s\nCLICK\n")
	if sched.registers[s.Identity()].Interval.String() != "30s" {
		t.Fatalf("expected rearm deferred while running, got %v", sched.registers[s.Identity()])
	}
	if s.Schedule().Interval.String() != "5s" {
		t.Fatal("expected the new schedule to still be recorded on the script")
	}
}

func TestRegistryRemoveEvictsAndUnregisters(t *testing.T) {
	sched := newFakeScheduler()
	r := NewRegistry(nil, sched)

	s := r.Upsert("/tmp/scripts/a.scr", "// @schedule once\nCLICK\n")
	r.Remove("/tmp/scripts/a.scr")

	if r.Len() != 0 {
		t.Fatal("expected script to be evicted")
	}
	if _, ok := sched.registers[s.Identity()]; ok {
		t.Fatal("expected scheduler to be unregistered")
	}
}

func TestRegistryUpsertMalformedDirectiveIsUnscheduled(t *testing.T) {
	sched := newFakeScheduler()
	r := NewRegistry(nil, sched)

	s := r.Upsert("/tmp/scripts/a.scr", "// @schedule whenever\nCLICK\n")
	if s.Schedule() != nil {
		t.Fatal("expected malformed directive to leave script unscheduled")
	}
}
