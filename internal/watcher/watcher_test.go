package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_WatchUnwatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	files := w.Files()
	if len(files) != 1 {
		t.Fatalf("Files() = %v", files)
	}

	w.Unwatch(path)
	if len(w.Files()) != 0 {
		t.Errorf("after Unwatch: %v", w.Files())
	}
}

func TestWatcher_ChangeCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(path, []byte("v1"), 0600); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var changed []string
	onChange := func(p string) {
		mu.Lock()
		changed = append(changed, p)
		mu.Unlock()
	}

	w := NewWatcher(onChange, nil, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("v2"), 0600); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) > 0
	})
	if !ok {
		t.Fatal("change callback never fired")
	}
	mu.Lock()
	defer mu.Unlock()
	if filepath.Clean(changed[0]) != filepath.Clean(path) {
		t.Errorf("changed path = %q, want %q", changed[0], path)
	}
}

func TestWatcher_IgnoresUntrackedSiblings(t *testing.T) {
	dir := t.TempDir()
	tracked := filepath.Join(dir, "tracked.txt")
	sibling := filepath.Join(dir, "sibling.txt")
	if err := os.WriteFile(tracked, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var changed []string
	onChange := func(p string) {
		mu.Lock()
		changed = append(changed, p)
		mu.Unlock()
	}

	w := NewWatcher(onChange, nil, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.Watch(tracked); err != nil {
		t.Fatal(err)
	}
	// Writing an untracked file in the same directory must not fire.
	if err := os.WriteFile(sibling, []byte("y"), 0600); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(changed) != 0 {
		t.Errorf("unexpected callbacks: %v", changed)
	}
}

func TestWatcher_RemoveCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var removed []string
	onRemove := func(p string) {
		mu.Lock()
		removed = append(removed, p)
		mu.Unlock()
	}

	w := NewWatcher(nil, onRemove, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(removed) > 0
	})
	if !ok {
		t.Fatal("remove callback never fired")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
