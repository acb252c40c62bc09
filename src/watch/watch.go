// Package watch provides a filesystem watcher that is used to re-lint files when they change
// outside of an editor.
package watch

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/op/go-logging.v1"

	pfs "github.com/thought-machine/psalm-langserver/src/fs"
)

var log = logging.MustGetLogger("watch")

const debounceInterval = 50 * time.Millisecond

// skippedDirs are never watched; they're big and nobody edits them by hand.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// A Watcher watches a set of directory trees for changes to files with particular extensions.
type Watcher struct {
	watcher    *fsnotify.Watcher
	extensions []string
	dirs       map[string]struct{}
}

// New creates a new Watcher on the given roots. Only files with one of the given extensions
// are reported; if there are none then all files are.
func New(roots []string, extensions []string) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:    watcher,
		extensions: extensions,
		dirs:       map[string]struct{}{},
	}
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			watcher.Close()
			return nil, err
		}
	}
	return w, nil
}

// addTree adds watches on a directory and everything beneath it.
func (w *Watcher) addTree(root string) error {
	return pfs.Walk(root, func(path string, isDir bool) error {
		if !isDir {
			return nil
		} else if path != root && skippedDirs[filepath.Base(path)] {
			return pfs.SkipDir
		} else if _, present := w.dirs[path]; present {
			return nil
		}
		log.Debug("Adding watch on %s", path)
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.dirs[path] = struct{}{}
		return nil
	})
}

// Run watches for changes until the context is done, calling the callback with each batch
// of changed files. Changes are debounced so a burst of writes to one file gives one call.
// The watcher is closed when it returns.
func (w *Watcher) Run(ctx context.Context, callback func(files []string)) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			changed := map[string]struct{}{}
			w.handle(event, changed)
			// Quick debounce; collect all events for the next brief period.
		outer:
			for {
				select {
				case event, ok := <-w.watcher.Events:
					if !ok {
						return nil
					}
					w.handle(event, changed)
				case <-time.After(debounceInterval):
					break outer
				case <-ctx.Done():
					return nil
				}
			}
			if len(changed) > 0 {
				files := make([]string, 0, len(changed))
				for file := range changed {
					files = append(files, file)
				}
				sort.Strings(files)
				callback(files)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Error watching files: %s", err)
		}
	}
}

// handle records a single event.
func (w *Watcher) handle(event fsnotify.Event, changed map[string]struct{}) {
	log.Debug("Event: %s", event)
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if pfs.IsDirectory(event.Name) {
		if event.Has(fsnotify.Create) && !skippedDirs[filepath.Base(event.Name)] {
			if err := w.addTree(event.Name); err != nil {
				log.Warning("Failed to add watch on %s: %s", event.Name, err)
			}
		}
		return
	}
	if pfs.HasExtension(event.Name, w.extensions) {
		changed[event.Name] = struct{}{}
	}
}
