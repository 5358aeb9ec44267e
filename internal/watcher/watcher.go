// Package watcher keeps the index in sync with ingested files on disk. Each
// ingested file is registered individually; writes trigger a debounced
// re-ingest callback and deletions trigger a remove callback.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches registered files and invokes callbacks on changes.
type Watcher struct {
	onChange func(path string)
	onRemove func(path string)
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	mu          sync.Mutex
	files       map[string]struct{} // tracked file paths (cleaned, absolute)
	dirRefs     map[string]int      // watched parent dir -> tracked file count
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the debounce interval for change events.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher. onChange fires after a tracked file settles
// following a write; onRemove fires when a tracked file is deleted or renamed
// away.
func NewWatcher(onChange, onRemove func(path string), opts ...Option) *Watcher {
	w := &Watcher{
		onChange:    onChange,
		onRemove:    onRemove,
		debounce:    defaultDebounce,
		files:       make(map[string]struct{}),
		dirRefs:     make(map[string]int),
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	w.started = true
	w.mu.Unlock()

	w.logger.Debug("watcher started")
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

// Watch registers path. Its parent directory is added to the fsnotify watch
// set; directories are watched rather than files so that editors that replace
// files by rename still produce events for the tracked path.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	if _, ok := w.files[abs]; ok {
		return nil
	}
	if w.dirRefs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	w.dirRefs[dir]++
	w.files[abs] = struct{}{}
	w.logger.Debug("watching file", zap.String("path", abs))
	return nil
}

// Unwatch stops tracking path. The parent directory watch is dropped once no
// tracked file remains in it.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	abs = filepath.Clean(abs)
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; !ok {
		return
	}
	delete(w.files, abs)
	if t, ok := w.debounceMap[abs]; ok {
		t.Stop()
		delete(w.debounceMap, abs)
	}
	if w.dirRefs[dir]--; w.dirRefs[dir] <= 0 {
		delete(w.dirRefs, dir)
		if w.watcher != nil {
			_ = w.watcher.Remove(dir)
		}
	}
	w.logger.Debug("stopped watching file", zap.String("path", abs))
}

// Files returns the tracked file paths.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	return out
}

func (w *Watcher) tracked(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[filepath.Clean(path)]
	return ok
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.tracked(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create):
		w.debounceChange(path)
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		// A rename may be an editor's atomic save; only treat it as a
		// removal when the file is really gone.
		if _, err := os.Stat(path); err == nil {
			w.debounceChange(path)
			return
		}
		w.cancelDebounce(path)
		if w.onRemove != nil {
			w.onRemove(path)
		}
	}
}

func (w *Watcher) debounceChange(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	t := time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		w.logger.Debug("file settled, reindexing", zap.String("path", path))
		if w.onChange != nil {
			w.onChange(path)
		}
	})
	w.debounceMap[path] = t
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
