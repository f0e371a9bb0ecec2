// Package script implements the ScriptRegistry and Script/ScheduleSpec
// data model (spec §3, §4.2), grounded on the teacher's digraph/DAG
// record pattern: an identity-keyed map guarded by a single mutex,
// with a lookup method rather than back-pointers from records to
// their owner (spec §9: no ambient singletons, no cycles).
package script

import (
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Result is the last-run outcome tag recorded on a Script.
type Result string

const (
	ResultNone    Result = ""
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// Script is a single automation script file tracked by the registry
// (spec §3). Its identity is the normalized absolute path of the file
// it was loaded from; the registry is the sole owner of Script records,
// so Script holds no back-reference to it (spec §9).
type Script struct {
	mu sync.RWMutex

	identity string
	name     string
	body     string
	schedule *ScheduleSpec

	runCount   int
	errorCount int
	lastRun    time.Time
	lastResult Result
	lastError  string
	running    bool
}

// Identity returns the normalized absolute path that identifies this script.
func (s *Script) Identity() string { return s.identity }

// Name returns the display name (basename without extension).
func (s *Script) Name() string { return s.name }

// Body returns the current script source text.
func (s *Script) Body() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.body
}

// Schedule returns the current schedule spec, or nil if unscheduled.
func (s *Script) Schedule() *ScheduleSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// IsRunning reports whether an execution of this script is in flight.
func (s *Script) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SetRunning marks the script as running or idle. Callers (the
// ExecutionQueue) must pair a true call with an eventual false call.
func (s *Script) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// RecordResult updates run counters after an execution completes.
func (s *Script) RecordResult(result Result, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCount++
	s.lastRun = time.Now()
	s.lastResult = result
	s.lastError = errText
	if result == ResultError {
		s.errorCount++
	}
}

// Snapshot is an immutable, serializable view of a Script (for the
// REST API and tests) taken under the record's lock.
type Snapshot struct {
	Identity   string    `json:"identity"`
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule,omitempty"`
	RunCount   int       `json:"runCount"`
	ErrorCount int       `json:"errorCount"`
	LastRun    time.Time `json:"lastRun,omitempty"`
	LastResult Result    `json:"lastResult,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	Running    bool      `json:"running"`
}

// Snapshot returns a consistent, point-in-time copy of the script's state.
func (s *Script) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw := ""
	if s.schedule != nil {
		raw = s.schedule.Raw
	}
	return Snapshot{
		Identity:   s.identity,
		Name:       s.name,
		Schedule:   raw,
		RunCount:   s.runCount,
		ErrorCount: s.errorCount,
		LastRun:    s.lastRun,
		LastResult: s.lastResult,
		LastError:  s.lastError,
		Running:    s.running,
	}
}

func (s *Script) setBodyAndSchedule(body string, spec *ScheduleSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
	s.schedule = spec
}

// NormalizeIdentity lowercases and cleans a filesystem path into the
// stable identity used to key the registry (spec §3).
func NormalizeIdentity(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return strings.ToLower(filepath.ToSlash(filepath.Clean(abs)))
}

// DisplayName derives a Script's display name from its path: the
// basename without extension.
func DisplayName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func newScript(path, body string, spec *ScheduleSpec) *Script {
	return &Script{
		identity: NormalizeIdentity(path),
		name:     DisplayName(path),
		body:     body,
		schedule: spec,
	}
}
