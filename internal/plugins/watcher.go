package plugins

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a set of plugin directories and invokes onChange whenever
// a manifest.json is created, written, removed, or renamed, so newly
// dropped plugins are discovered without a daemon restart.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func()
}

// NewWatcher starts watching dirs. onChange is called (from a background
// goroutine, so it must be safe to call concurrently) after any event
// touching a manifest.json under one of dirs; the caller typically re-runs
// DiscoverManifests in response.
func NewWatcher(dirs []string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		validated, err := ValidatePluginPath(dir)
		if err != nil {
			continue
		}
		// Best-effort: a plugin directory that doesn't exist yet simply
		// isn't watched until it's created and the caller re-polls.
		_ = fsw.Add(validated)
	}
	w := &Watcher{fs: fsw, onChange: onChange}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != ManifestFilename {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.onChange()
			}
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fs.Close() }

// Run blocks discovering manifests on every filesystem change until ctx is
// cancelled, calling discover(paths) on start and after every change.
func Run(ctx context.Context, paths []string, discover func([]string)) (*Watcher, error) {
	discover(paths)
	w, err := NewWatcher(paths, func() { discover(paths) })
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		w.Close()
	}()
	return w, nil
}
