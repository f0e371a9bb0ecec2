package script

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Scheduler is the seam the registry uses to (re)arm timers as scripts
// are added, changed or removed (spec §4.2, §4.4). It is implemented
// by internal/schedule.Engine; the registry only needs this narrow view
// of it, which keeps the two packages from importing each other.
type Scheduler interface {
	Register(identity string, spec *ScheduleSpec)
	Unregister(identity string)
}

// Registry maintains the identity → Script mapping (spec §4.2).
type Registry struct {
	log       *slog.Logger
	scheduler Scheduler

	mu      sync.RWMutex
	scripts map[string]*Script
}

// NewRegistry creates an empty registry. scheduler may be nil, in which
// case schedule (re)registration is skipped — useful for tests that
// only exercise the registry's bookkeeping.
func NewRegistry(log *slog.Logger, scheduler Scheduler) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, scheduler: scheduler, scripts: make(map[string]*Script)}
}

// SetScheduler wires the scheduler after construction, breaking the
// Registry/ScheduleEngine/ExecutionQueue construction cycle: the engine
// needs the registry as its ScriptSource and the queue as its Enqueuer,
// both of which must exist before the engine does.
func (r *Registry) SetScheduler(s Scheduler) {
	r.mu.Lock()
	r.scheduler = s
	r.mu.Unlock()
}

// Get looks up a script by identity.
func (r *Registry) Get(identity string) (*Script, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scripts[identity]
	return s, ok
}

// List returns every tracked script, in no particular order.
func (r *Registry) List() []*Script {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Script, 0, len(r.scripts))
	for _, s := range r.scripts {
		out = append(out, s)
	}
	return out
}

// Len reports the number of tracked scripts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scripts)
}

// Upsert handles a watcher `added` or `changed` event (spec §4.2): it
// parses the leading schedule directive, creates the record if new, and
// updates body+schedule if known. While the script is running, the new
// body and schedule are recorded on the script but the scheduler is not
// re-armed: the previous timer keeps its interval, and the new schedule
// takes effect only when a later Upsert for the same path arrives while
// the script is idle. Nothing re-arms it when the run ends.
func (r *Registry) Upsert(path, body string) *Script {
	identity := NormalizeIdentity(path)
	spec, err := ParseDirective(body)
	if err != nil {
		r.log.Warn("malformed schedule directive, treating script as unscheduled",
			"script", identity, "error", err)
		spec = nil
	}

	r.mu.Lock()
	existing, known := r.scripts[identity]
	if !known {
		s := newScript(path, body, spec)
		r.scripts[identity] = s
		r.mu.Unlock()
		r.arm(identity, spec)
		return s
	}
	r.mu.Unlock()

	if existing.IsRunning() {
		r.log.Debug("deferring schedule re-registration until script is idle", "script", identity)
		existing.setBodyAndSchedule(body, spec)
		return existing
	}

	existing.setBodyAndSchedule(body, spec)
	r.arm(identity, spec)
	return existing
}

// UpsertInline registers an ad hoc script with no backing file on disk
// (spec §6.3 POST /api/tasks/run with inline `code`), keyed by a
// synthetic "inline:<uuid>" identity so it is tracked, runnable and
// visible through GET /api/tasks like any watched script.
func (r *Registry) UpsertInline(name, body string) *Script {
	s := &Script{identity: "inline:" + uuid.NewString(), name: name, body: body}
	r.mu.Lock()
	r.scripts[s.identity] = s
	r.mu.Unlock()
	return s
}

// Remove handles a watcher `removed` event: cancels any schedule and
// evicts the record.
func (r *Registry) Remove(path string) {
	identity := NormalizeIdentity(path)

	r.mu.Lock()
	_, known := r.scripts[identity]
	delete(r.scripts, identity)
	r.mu.Unlock()

	if known && r.scheduler != nil {
		r.scheduler.Unregister(identity)
	}
}

func (r *Registry) arm(identity string, spec *ScheduleSpec) {
	if r.scheduler == nil {
		return
	}
	if spec == nil {
		r.scheduler.Unregister(identity)
		return
	}
	r.scheduler.Register(identity, spec)
}
