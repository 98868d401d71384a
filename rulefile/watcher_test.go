package rulefile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/retrofor/Siamese/rules"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// TestWatcherReloadsEngine verifies a file change reloads the engine
func TestWatcherReloadsEngine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "vip.yaml", vipRuleYAML)

	engine, err := rules.NewEngine(NewDirStore(dir))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	w, err := NewWatcher(dir, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}

	var reloads atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func() error {
			reloads.Add(1)
			return engine.Reload()
		})
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "extra.yaml", jsonRules)

	if !waitFor(t, 3*time.Second, func() bool {
		_, err := engine.Rule("free-shipping")
		return err == nil
	}) {
		t.Fatal("engine was not reloaded after the file change")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() returned %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Watch() did not return after Stop()")
	}

	if reloads.Load() == 0 {
		t.Error("onReload was never called")
	}
}

// TestWatcherStopsOnContextCancel verifies cancelling the context ends Watch
func TestWatcherStopsOnContextCancel(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func() error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}

// TestWatcherMissingDir verifies watching a missing directory fails
func TestWatcherMissingDir(t *testing.T) {
	w, err := NewWatcher("/nonexistent/rules/dir", 0)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Stop()

	if err := w.Watch(context.Background(), func() error { return nil }); err == nil {
		t.Error("Watch() should fail for a missing directory")
	}
}

// TestStopWithoutWatch verifies Stop is safe before Watch and when called twice
func TestStopWithoutWatch(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

func TestRelevant(t *testing.T) {
	testCases := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "/r/a.yaml", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/r/a.json", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/r/a.yaml", Op: fsnotify.Remove}, true},
		{fsnotify.Event{Name: "/r/a.yaml", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/r/.a.yaml.swp", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/r/README.md", Op: fsnotify.Write}, false},
	}

	for _, tc := range testCases {
		if got := relevant(tc.event); got != tc.want {
			t.Errorf("relevant(%v) = %v, want %v", tc.event, got, tc.want)
		}
	}
}

// TestDebouncerCoalesces verifies a burst of triggers runs the callback once
func TestDebouncerCoalesces(t *testing.T) {
	d := newDebouncer(100 * time.Millisecond)
	var calls atomic.Int32

	for i := 0; i < 10; i++ {
		d.trigger(func() { calls.Add(1) })
		time.Sleep(2 * time.Millisecond)
	}

	if !waitFor(t, time.Second, func() bool { return calls.Load() == 1 }) {
		t.Fatalf("callback ran %d times, want 1", calls.Load())
	}
	time.Sleep(200 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("callback ran %d times, want 1", calls.Load())
	}

	d.stop()
	d.trigger(func() { calls.Add(1) })
	time.Sleep(200 * time.Millisecond)
	if calls.Load() != 1 {
		t.Error("stopped debouncer should not run callbacks")
	}
}
