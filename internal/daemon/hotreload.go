package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/shana/internal/config"
	"github.com/jmylchreest/shana/internal/store"
)

// DefaultReloadDelay coalesces editor save bursts into one reload.
const DefaultReloadDelay = 100 * time.Millisecond

// ConfigWatcher watches the configuration directory and republishes the
// routing whenever an entry in it is created or written.
type ConfigWatcher struct {
	mu     sync.RWMutex
	logger *slog.Logger

	configPath string
	store      *store.Store

	// Delay between the first event of a burst and the reload (0 = immediate)
	delay time.Duration

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}

	running bool
}

// NewConfigWatcher creates a ConfigWatcher for configPath that publishes into st.
func NewConfigWatcher(configPath string, st *store.Store, logger *slog.Logger) (*ConfigWatcher, error) {
	if configPath == "" {
		return nil, errors.New("unable to determine config path")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigWatcher{
		logger:     logger,
		configPath: configPath,
		store:      st,
		delay:      DefaultReloadDelay,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// SetDelay sets the coalescing delay.
func (w *ConfigWatcher) SetDelay(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delay = delay
}

// Dir returns the watched directory.
func (w *ConfigWatcher) Dir() string {
	return filepath.Dir(w.configPath)
}

// Start begins watching the configuration directory.
// The directory must exist; the file inside it need not.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.Dir()); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", w.Dir(), err)
	}

	w.watcher = watcher
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	delay := w.delay
	w.mu.Unlock()

	go w.watchLoop(ctx, watcher, delay)

	w.logger.Debug("config watcher started", "dir", w.Dir(), "delay", delay)
	return nil
}

// Stop stops watching and waits for the watch loop to exit.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	watcher := w.watcher
	w.mu.Unlock()

	<-w.doneCh
	_ = watcher.Close()
	w.logger.Debug("config watcher stopped")
}

// IsRunning returns whether the watcher is currently running.
func (w *ConfigWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Reload loads the configuration file and replaces the stored routing.
func (w *ConfigWatcher) Reload() config.Routing {
	routing := config.Load(w.configPath)
	w.store.Replace(routing, w.configPath)

	attrs := []any{"path", w.configPath, "open_file", routing.OpenFile, "save_file", routing.SaveFile,
		"save_files", routing.SaveFiles, "open_file_when_directory", routing.OpenFileWhenDirectory}
	if info, err := os.Stat(w.configPath); err == nil {
		attrs = append(attrs, "size", humanize.Bytes(uint64(info.Size())))
	}
	w.logger.Info("config reloaded", attrs...)
	return routing
}

// watchLoop receives file-system events until stopped.
func (w *ConfigWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, delay time.Duration) {
	defer close(w.doneCh)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !qualifies(event) {
				continue
			}
			w.logger.Debug("config directory changed", "name", event.Name, "op", event.Op.String())

			if delay <= 0 {
				w.Reload()
				continue
			}
			// First event of a burst arms the timer; later ones ride along
			if timer == nil {
				timer = time.NewTimer(delay)
				timerCh = timer.C
			}

		case <-timerCh:
			timer, timerCh = nil, nil
			w.Reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// qualifies reports whether event should trigger a reload.
func qualifies(event fsnotify.Event) bool {
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}
