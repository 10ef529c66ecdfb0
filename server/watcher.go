package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports page sources that change after they were compiled.
// Compiled units are kept for the life of the process, so edits only take
// effect after a restart.
type Watcher struct {
	watcher    *fsnotify.Watcher
	server     *Server
	configPath string
	root       string
	stdout     io.Writer
	stderr     io.Writer

	// Debounce rapid successive writes to the same file
	mu     sync.Mutex
	recent map[string]time.Time
}

// NewWatcher creates a file watcher for dev mode.
func NewWatcher(s *Server, configPath string, stdout, stderr io.Writer) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:    fsWatcher,
		server:     s,
		configPath: configPath,
		root:       s.config.Scripts.Root,
		stdout:     stdout,
		stderr:     stderr,
		recent:     make(map[string]time.Time),
	}, nil
}

// Start begins watching the config directory and the site root.
func (w *Watcher) Start(ctx context.Context) error {
	if w.configPath != "" {
		configDir := filepath.Dir(w.configPath)
		if err := w.watcher.Add(configDir); err != nil {
			w.logError("failed to watch config dir %s: %v", configDir, err)
		} else {
			w.logInfo("watching config: %s", w.configPath)
		}
	}

	if err := w.watchDirRecursive(w.root); err != nil {
		w.logError("failed to watch site root %s: %v", w.root, err)
	} else {
		w.logInfo("watching pages: %s", w.root)
	}

	go w.eventLoop(ctx)
	return nil
}

// watchDirRecursive adds a directory and its subdirectories to the watch list
func (w *Watcher) watchDirRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) eventLoop(ctx context.Context) {
	const debounce = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}

			// New directories under the root need their own watch
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watchDirRecursive(event.Name); err != nil {
						w.logError("failed to watch %s: %v", event.Name, err)
					}
					continue
				}
			}

			w.mu.Lock()
			if time.Since(w.recent[event.Name]) < debounce {
				w.mu.Unlock()
				continue
			}
			w.recent[event.Name] = time.Now()
			w.mu.Unlock()

			w.handleFileChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logError("watcher error: %v", err)
		}
	}
}

// handleFileChange reports what a change to path affects and returns the
// entry pages whose compiled form is now stale.
func (w *Watcher) handleFileChange(path string) []string {
	if w.configPath != "" && filepath.Clean(path) == filepath.Clean(w.configPath) {
		w.logInfo("config changed: %s (restart the server for config changes to take effect)", path)
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	var stale []string
	for _, unit := range w.server.registry.Units() {
		files := unit.Files()
		if slices.ContainsFunc(files, func(f string) bool { return sameFile(f, abs) }) {
			stale = append(stale, unit.Path())
		}
	}
	slices.Sort(stale)

	switch {
	case len(stale) > 0:
		w.logInfo("page source changed: %s (restart to recompile %s)", path, strings.Join(stale, ", "))
	case w.server.scriptSite().isScript(path):
		w.logInfo("page changed: %s", path)
	}
	return stale
}

func sameFile(a, b string) bool {
	if aa, err := filepath.Abs(a); err == nil {
		a = aa
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// Close stops the watcher
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) logInfo(format string, args ...interface{}) {
	fmt.Fprintf(w.stdout, "[WATCH] "+format+"\n", args...)
}

func (w *Watcher) logError(format string, args ...interface{}) {
	fmt.Fprintf(w.stderr, "[WATCH ERROR] "+format+"\n", args...)
}
