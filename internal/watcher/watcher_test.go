package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func collectEvents(t *testing.T, w *Watcher, n int, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestWatcherDetectsAddChangeRemove(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, ".scr", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the initial scan a moment to complete before creating the file,
	// otherwise the add below could race with the startup scan.
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(dir, "a.scr")
	if err := os.WriteFile(path, []byte("CLICK\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	events := collectEvents(t, w, 1, 4*time.Second)
	if len(events) == 0 || events[0].Type != EventAdded {
		t.Fatalf("expected an added event, got %+v", events)
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("CLICK\nTYPE hi\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	events = collectEvents(t, w, 1, 4*time.Second)
	if len(events) == 0 || events[0].Type != EventChanged {
		t.Fatalf("expected a changed event, got %+v", events)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	events = collectEvents(t, w, 1, 4*time.Second)
	if len(events) == 0 || events[0].Type != EventRemoved {
		t.Fatalf("expected a removed event, got %+v", events)
	}
}

func TestWatcherIgnoresNonMatchingExtension(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, ".scr", nil)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w.scan(true)
	if len(w.known) != 0 {
		t.Fatalf("expected non-matching file to be ignored, tracked: %v", w.known)
	}
}
