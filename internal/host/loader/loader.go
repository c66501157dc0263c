// Package loader discovers script plugins on disk and keeps the registry in
// sync with the script directory, optionally hot-reloading files as they
// change.
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/goatkit/patchbay/internal/host/script"
	"github.com/goatkit/patchbay/pkg/plugin"
)

const scriptExt = ".js"

// DiscoveredScript records one script file found in the directory.
type DiscoveredScript struct {
	Name     string // derived from filename or the script's declaration
	Path     string
	LoadedAt time.Time
}

// Loader scans a directory for .js plugin scripts and registers them.
type Loader struct {
	scriptDir string
	registry  *plugin.Registry
	logger    *slog.Logger

	mu         sync.RWMutex
	discovered map[string]*DiscoveredScript // path -> discovery info

	watcher     *fsnotify.Watcher
	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchMu     sync.Mutex
	debounce    map[string]*time.Timer
}

// NewLoader creates a script loader for the given directory.
func NewLoader(scriptDir string, registry *plugin.Registry, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		scriptDir:  scriptDir,
		registry:   registry,
		logger:     logger,
		discovered: make(map[string]*DiscoveredScript),
		debounce:   make(map[string]*time.Timer),
	}
}

// LoadAll scans the script directory and registers every script found.
// Returns the number of scripts registered and any per-file errors; a broken
// script never stops the scan.
func (l *Loader) LoadAll() (int, []error) {
	if _, err := os.Stat(l.scriptDir); os.IsNotExist(err) {
		l.logger.Info("script directory does not exist, creating", "path", l.scriptDir)
		if err := os.MkdirAll(l.scriptDir, 0755); err != nil {
			return 0, []error{fmt.Errorf("create script dir: %w", err)}
		}
		return 0, nil
	}

	var errs []error
	loaded := 0
	err := filepath.WalkDir(l.scriptDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), scriptExt) {
			return nil
		}
		if err := l.loadScript(path); err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", filepath.Base(path), err))
		} else {
			loaded++
		}
		return nil
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("walk script dir: %w", err))
	}
	return loaded, errs
}

// Discovered returns info about the scripts currently registered.
func (l *Loader) Discovered() []*DiscoveredScript {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*DiscoveredScript, 0, len(l.discovered))
	for _, d := range l.discovered {
		result = append(result, d)
	}
	return result
}

// loadScript compiles one script file and registers it, replacing any
// previous registration from the same path.
func (l *Loader) loadScript(path string) error {
	p, err := script.LoadFile(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// A rewrite of the same file may change the declared name; drop the
	// old registration first.
	if prev, ok := l.discovered[path]; ok {
		_ = l.registry.Unregister(prev.Name)
	}
	if err := l.registry.Register(p); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	l.discovered[path] = &DiscoveredScript{
		Name:     p.Name(),
		Path:     path,
		LoadedAt: time.Now(),
	}
	l.logger.Info("loaded script plugin",
		"name", p.Name(),
		"capability", p.CapabilityVersion(),
		"path", path,
	)
	return nil
}

// unloadScript drops the registration backed by the given path.
func (l *Loader) unloadScript(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.discovered[path]
	if !ok {
		return
	}
	delete(l.discovered, path)
	if err := l.registry.Unregister(d.Name); err != nil {
		l.logger.Warn("unregister removed script", "name", d.Name, "error", err)
		return
	}
	l.logger.Info("unloaded script plugin", "name", d.Name, "path", path)
}

// Reload recompiles and re-registers the script at path.
func (l *Loader) Reload(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("script file not found: %s", path)
	}
	return l.loadScript(path)
}

// WatchDir starts watching the script directory. Created and modified
// scripts are (re)loaded, removed scripts are unregistered. Running
// instances keep their current code; only new instances see the reload.
func (l *Loader) WatchDir(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	l.watchMu.Lock()
	l.watcher = watcher
	l.watchCtx, l.watchCancel = context.WithCancel(ctx)
	l.watchMu.Unlock()

	if err := watcher.Add(l.scriptDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch script dir: %w", err)
	}
	filepath.WalkDir(l.scriptDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		watcher.Add(path)
		return nil
	})

	l.logger.Info("script hot reload enabled", "path", l.scriptDir)

	go l.watchLoop()
	return nil
}

// StopWatch stops the file watcher.
func (l *Loader) StopWatch() {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()

	if l.watchCancel != nil {
		l.watchCancel()
	}
	if l.watcher != nil {
		l.watcher.Close()
		l.watcher = nil
	}
}

func (l *Loader) watchLoop() {
	for {
		select {
		case <-l.watchCtx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleFSEvent(event)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFSEvent debounces rapid changes (e.g. editors writing in chunks)
// before acting on them.
func (l *Loader) handleFSEvent(event fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(event.Name), scriptExt) {
		return
	}

	l.watchMu.Lock()
	if timer, exists := l.debounce[event.Name]; exists {
		timer.Stop()
	}
	l.debounce[event.Name] = time.AfterFunc(500*time.Millisecond, func() {
		l.processFileChange(event)
	})
	l.watchMu.Unlock()
}

func (l *Loader) processFileChange(event fsnotify.Event) {
	path := event.Name
	base := filepath.Base(path)

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create,
		event.Op&fsnotify.Write == fsnotify.Write:
		if err := l.loadScript(path); err != nil {
			l.logger.Error("failed to load script", "file", base, "error", err)
		}

	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		// A rename shows up as Remove+Create under the new name.
		l.unloadScript(path)
	}

	l.watchMu.Lock()
	delete(l.debounce, path)
	l.watchMu.Unlock()
}
