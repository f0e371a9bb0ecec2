// Package watcher implements the ScriptWatcher (spec §4.1): directory
// watching that combines a native fsnotify watch for latency with a
// periodic poll for reliability, grounded on the fsnotify+debounce
// idiom in _examples/vjache-cie/cmd/cie/watch.go.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType discriminates the three file lifecycle transitions the
// watcher can observe (spec §4.1).
type EventType string

const (
	EventAdded   EventType = "added"
	EventChanged EventType = "changed"
	EventRemoved EventType = "removed"
)

// Event is one ScriptWatcher observation.
type Event struct {
	Type EventType
	Path string
}

const (
	pollInterval   = 3 * time.Second
	debounceWindow = 500 * time.Millisecond
)

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher watches Dir for files with Ext and emits added/changed/removed
// events on Events.
type Watcher struct {
	Dir string
	Ext string

	log    *slog.Logger
	events chan Event

	mu    sync.Mutex
	known map[string]fileState

	debounce    map[string]*time.Timer
	debounceMu  sync.Mutex
	nativeWarnOnce sync.Once
}

// New creates a Watcher over dir for files matching ext (e.g. ".scr").
func New(dir, ext string, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		Dir:      dir,
		Ext:      ext,
		log:      log,
		events:   make(chan Event, 64),
		known:    make(map[string]fileState),
		debounce: make(map[string]*time.Timer),
	}
}

// Events returns the channel events are published on.
func (w *Watcher) Events() <-chan Event { return w.events }

// Run starts the watcher and blocks until ctx is cancelled. It combines
// a native fsnotify watch with a periodic poll fallback (spec §4.1);
// if the native watch cannot be established it logs a single warning
// and continues on polling alone (fail-open).
func (w *Watcher) Run(ctx context.Context) error {
	// Seed known state so startup does not emit spurious "added" events
	// for files already present — they were presumably added before the
	// daemon started and are picked up by the daemon's own initial
	// directory scan, which feeds the ScriptRegistry the same way a
	// watcher `added` event does.
	w.scan(true)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.warnNativeUnavailable(err)
		fsw = nil
	} else {
		defer fsw.Close()
		if err := fsw.Add(w.Dir); err != nil {
			w.warnNativeUnavailable(err)
			fsw.Close()
			fsw = nil
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var fsEvents chan fsnotify.Event
	var fsErrors chan error
	if fsw != nil {
		fsEvents = fsw.Events
		fsErrors = fsw.Errors
	}

	for {
		select {
		case <-ctx.Done():
			close(w.events)
			return nil
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			w.scheduleDebouncedScan(ev.Name)
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			w.log.Warn("native watch error", "error", err)
		case <-ticker.C:
			w.scan(false)
		}
	}
}

func (w *Watcher) warnNativeUnavailable(err error) {
	w.nativeWarnOnce.Do(func() {
		w.log.Warn("native filesystem watch unavailable, falling back to polling only", "error", err)
	})
}

// scheduleDebouncedScan coalesces bursts of native events for the same
// path into a single rescan after the path has been quiet for
// debounceWindow (spec §4.1).
func (w *Watcher) scheduleDebouncedScan(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounce[path]; ok {
		t.Stop()
	}
	w.debounce[path] = time.AfterFunc(debounceWindow, func() {
		w.debounceMu.Lock()
		delete(w.debounce, path)
		w.debounceMu.Unlock()
		w.scan(false)
	})
}

// scan rescans the watched directory, comparing (mtime, size) against
// the last recorded state for every matching file and emitting
// added/changed/removed events (spec §4.1). When initial is true, files
// seen for the first time are recorded without emitting `added`.
func (w *Watcher) scan(initial bool) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		w.log.Warn("failed to read watch directory", "dir", w.Dir, "error", err)
		return
	}

	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), w.Ext) {
			continue
		}
		path := filepath.Join(w.Dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		seen[path] = struct{}{}

		state := fileState{modTime: info.ModTime(), size: info.Size()}

		w.mu.Lock()
		prev, known := w.known[path]
		changed := known && (prev.modTime != state.modTime || prev.size != state.size)
		w.known[path] = state
		w.mu.Unlock()

		switch {
		case !known && !initial:
			w.emit(EventAdded, path)
		case changed:
			w.emit(EventChanged, path)
		}
	}

	w.mu.Lock()
	var removed []string
	for path := range w.known {
		if _, ok := seen[path]; !ok {
			removed = append(removed, path)
		}
	}
	for _, path := range removed {
		delete(w.known, path)
	}
	w.mu.Unlock()

	for _, path := range removed {
		w.emit(EventRemoved, path)
	}
}

func (w *Watcher) emit(t EventType, path string) {
	select {
	case w.events <- Event{Type: t, Path: path}:
	default:
		w.log.Warn("watcher event channel full, dropping event", "type", t, "path", path)
	}
}
