// Package schedule implements the ScheduleEngine (spec §4.4, §8):
// converts each script's ScheduleSpec into timed enqueue calls, with
// coalescing semantics so a busy script never gets queued twice.
package schedule

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dagucloud/scriptd/internal/script"
)

// Enqueuer is the seam used to push a tick's captured body onto the
// ExecutionQueue. Implemented by queue.Queue.
type Enqueuer interface {
	Enqueue(identity, body string) (string, error)
}

// ScriptSource looks up the live script record a tick needs (current
// body and running state). Implemented by script.Registry.
type ScriptSource interface {
	Get(identity string) (*script.Script, bool)
}

type timerEntry struct {
	identity string
	interval time.Duration
	timer    *time.Timer
}

// Engine is the ScheduleEngine. It satisfies script.Scheduler, so a
// script.Registry can hold it directly.
type Engine struct {
	enqueuer Enqueuer
	source   ScriptSource
	log      *slog.Logger

	mu     sync.Mutex
	timers map[string]*timerEntry
}

// New creates a ScheduleEngine.
func New(enqueuer Enqueuer, source ScriptSource, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{enqueuer: enqueuer, source: source, log: log, timers: make(map[string]*timerEntry)}
}

// Register (re)arms the timer for identity, replacing any prior one
// atomically (spec §4.4: "any pending timer is cancelled and replaced
// atomically").
func (e *Engine) Register(identity string, spec *script.ScheduleSpec) {
	e.mu.Lock()
	e.cancelLocked(identity)
	e.mu.Unlock()

	if spec == nil {
		return
	}

	switch spec.Kind {
	case script.ScheduleOnce:
		e.fireOnce(identity)
	case script.ScheduleEvery:
		e.armEvery(identity, spec.Interval)
	}
}

// Unregister cancels any timer for identity.
func (e *Engine) Unregister(identity string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked(identity)
}

func (e *Engine) cancelLocked(identity string) {
	if t, ok := e.timers[identity]; ok {
		// timer is nil until the entry's first tick has armed it.
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(e.timers, identity)
	}
}

// StopAll cancels every armed timer (spec §4.4: admin reload cancels
// all timers before the registry is rebuilt).
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(e.timers, id)
	}
}

func (e *Engine) fireOnce(identity string) {
	go e.enqueueIfIdle(identity)
}

func (e *Engine) armEvery(identity string, interval time.Duration) {
	entry := &timerEntry{identity: identity, interval: interval}
	e.mu.Lock()
	e.timers[identity] = entry
	e.mu.Unlock()
	// `every N unit` enqueues immediately, then every N units thereafter
	// (spec §4.4); the recurring AfterFunc is armed inside tick itself.
	go e.tick(identity, entry)
}

func (e *Engine) tick(identity string, entry *timerEntry) {
	e.enqueueIfIdle(identity)

	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.timers[identity]; !ok || cur != entry {
		return // unregistered or replaced while we were ticking
	}
	entry.timer = time.AfterFunc(entry.interval, func() { e.tick(identity, entry) })
}

// enqueueIfIdle enqueues the script's current body unless it is already
// running, in which case the tick is skipped — never coalesced into a
// second queued copy (spec §4.4, §8).
func (e *Engine) enqueueIfIdle(identity string) {
	s, ok := e.source.Get(identity)
	if !ok {
		return
	}
	if s.IsRunning() {
		e.log.Debug("schedule tick skipped: script still running", "script", identity)
		return
	}
	if _, err := e.enqueuer.Enqueue(identity, s.Body()); err != nil {
		e.log.Warn("schedule enqueue failed", "script", identity, "error", err)
	}
}
