package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/hackenstacks/ai-nexus/pkg/state"
)

// ImportFunc receives a plugin record built from a drop-in file. The
// callee decides whether to create, update, or reject it.
type ImportFunc func(p state.Plugin) error

// Watcher monitors a drop-in directory for plugin source files. Any .js
// file placed there becomes an import request; edits re-import.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration
	importFn ImportFunc
	logger   zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// WatcherConfig holds configuration for the drop-in watcher.
type WatcherConfig struct {
	Dir      string
	Debounce time.Duration
	Import   ImportFunc
	Logger   zerolog.Logger
}

// NewWatcher creates a drop-in plugin watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if cfg.Import == nil {
		return nil, fmt.Errorf("import callback is required")
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 100 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:  fsw,
		dir:      cfg.Dir,
		debounce: cfg.Debounce,
		importFn: cfg.Import,
		logger:   cfg.Logger.With().Str("component", "plugin-watcher").Logger(),
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Start begins watching the drop-in directory, creating it if needed.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create plugin directory: %w", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch plugin directory: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().Str("dir", w.dir).Msg("Plugin drop-in watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timersMu.Lock()
	for _, timer := range w.timers {
		timer.Stop()
	}
	clear(w.timers)
	w.timersMu.Unlock()

	return w.watcher.Close()
}

// ImportExisting imports all .js files already present in the directory.
func (w *Watcher) ImportExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}
		w.importFile(filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
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
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".js") {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	// Debounce: editors fire several writes per save.
	w.timersMu.Lock()
	defer w.timersMu.Unlock()

	if timer, ok := w.timers[event.Name]; ok {
		timer.Stop()
	}
	path := event.Name
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.timersMu.Lock()
		delete(w.timers, path)
		w.timersMu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		w.importFile(path)
	})
}

func (w *Watcher) importFile(path string) {
	code, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Failed to read plugin file")
		return
	}

	name := strings.TrimSuffix(filepath.Base(path), ".js")
	record := state.Plugin{
		ID:      "file:" + name,
		Name:    name,
		Code:    string(code),
		Enabled: true,
	}

	if err := w.importFn(record); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Plugin import rejected")
		return
	}
	w.logger.Info().Str("plugin_id", record.ID).Msg("Plugin imported from drop-in directory")
}
