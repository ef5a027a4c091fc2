package plugins

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher drops cached plugin headers when files under the plugins
// directory change, so a manual copy or a completed install is picked up
// without a restart.
type Watcher struct {
	registry      *Registry
	watcher       *fsnotify.Watcher
	changed       map[string]bool
	mu            sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration
	onChange      func(folders []string)
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewWatcher creates a watcher for the registry's directory. onChange, when
// non-nil, is called after the debounce with the affected plugin folders.
func NewWatcher(registry *Registry, onChange func(folders []string)) *Watcher {
	return &Watcher{
		registry:      registry,
		changed:       make(map[string]bool),
		debounceDelay: 500 * time.Millisecond,
		onChange:      onChange,
		stopChan:      make(chan struct{}),
	}
}

// Start begins watching the plugins directory and its direct subfolders.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	root := w.registry.Dir()
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		watcher.Close()
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := watcher.Add(filepath.Join(root, e.Name())); err != nil {
				w.registry.log.Warnf("Could not watch %s: %v", e.Name(), err)
			}
		}
	}

	w.registry.log.Infof("File watcher started for plugins: %s", root)
	go w.processEvents()
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.registry.log.Warnf("File watcher error: %v", err)
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	rel, err := filepath.Rel(w.registry.Dir(), event.Name)
	if err != nil || strings.HasPrefix(rel, "..") || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)
	folder := strings.SplitN(rel, "/", 2)[0]

	// A folder created by a move or unpack has to be watched itself.
	if event.Op&fsnotify.Create == fsnotify.Create && !strings.Contains(rel, "/") {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.watcher.Add(event.Name)
		}
	}

	w.mu.Lock()
	w.changed[folder] = true
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.flush)
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.changed) == 0 {
		w.mu.Unlock()
		return
	}
	folders := make([]string, 0, len(w.changed))
	for f := range w.changed {
		folders = append(folders, f)
	}
	w.changed = make(map[string]bool)
	w.mu.Unlock()

	for _, f := range folders {
		w.registry.Invalidate(f)
	}
	w.registry.log.Debugf("Plugin files changed in %v, cached headers dropped", folders)
	if w.onChange != nil {
		w.onChange(folders)
	}
}
