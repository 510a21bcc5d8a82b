package contract

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"udos/internal/logging"
)

// Watcher re-checks the admin-secret contract when any of its artifacts
// change on disk. It watches the config directory and filters events to
// the env file, wizard.json, and the tomb.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	manager     *Manager
	configDir   string
	artifacts   map[string]bool
	onDrift     func(*StatusReport)
	debounceDur time.Duration
	pending     map[string]time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher builds a watcher over the manager's artifacts. onDrift fires
// after each debounced re-check that finds drift; it may be nil.
func NewWatcher(manager *Manager, configDir, envPath string, onDrift func(*StatusReport)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	artifacts := map[string]bool{
		filepath.Clean(envPath):                 true,
		filepath.Join(configDir, "wizard.json"): true,
		filepath.Clean(manager.store.Path()):    true,
	}
	w := &Watcher{
		watcher:     fw,
		manager:     manager,
		configDir:   configDir,
		artifacts:   artifacts,
		onDrift:     onDrift,
		debounceDur: 500 * time.Millisecond,
		pending:     make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	return w, nil
}

// Start begins watching. Non-blocking; the event loop runs until Stop or
// context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.configDir); err != nil {
		logging.ContractWarn("watcher: failed to watch %s: %v", w.configDir, err)
	} else {
		logging.Contract("watcher: watching %s", w.configDir)
	}

	go w.run(ctx)
	return nil
}

// Stop halts the event loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.ContractError("watcher: close failed: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.ContractError("watcher: %v", err)
		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	name := filepath.Clean(event.Name)
	if !w.artifacts[name] {
		return
	}
	logging.Contract("watcher: %s changed (%s)", filepath.Base(name), event.Op)
	w.mu.Lock()
	w.pending[name] = time.Now()
	w.mu.Unlock()
}

// flushPending runs one contract re-check once changes settle.
func (w *Watcher) flushPending() {
	w.mu.Lock()
	ready := false
	now := time.Now()
	for name, at := range w.pending {
		if now.Sub(at) >= w.debounceDur {
			delete(w.pending, name)
			ready = true
		}
	}
	w.mu.Unlock()
	if !ready {
		return
	}

	report, err := w.manager.Status()
	if err != nil {
		logging.ContractError("watcher: recheck failed: %v", err)
		return
	}
	if !report.OK && w.onDrift != nil {
		w.onDrift(report)
	}
}
