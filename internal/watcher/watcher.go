// Package watcher is a host event source for editors without an in-process
// plugin. CAD editors drop a lock-marker file next to a document while it is
// open (e.g. "model.rhl" beside "model.3dm"); watching the managed
// directories for those markers yields the same open/close events a plugin
// would deliver.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cadvault/drivelock/internal/coordinator"
)

// markerExt is the editor's lock-marker extension.
const markerExt = ".rhl"

// EventHandler receives the synthesized document events.
type EventHandler interface {
	OnFileOpened(ctx context.Context, path string, imported bool) coordinator.Result
	OnFileClosed(ctx context.Context, path string) coordinator.Result
}

// Watcher turns lock-marker file events into document open/close events.
type Watcher struct {
	fw      *fsnotify.Watcher
	handler EventHandler
	exts    []string

	mu   sync.Mutex
	open map[string]string // marker path -> document path
}

// New creates a Watcher. trackedExts lists the document extensions the
// markers may belong to.
func New(handler EventHandler, trackedExts []string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		fw:      fw,
		handler: handler,
		exts:    trackedExts,
		open:    make(map[string]string),
	}, nil
}

// Add watches root and all directories below it.
func (w *Watcher) Add(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fw.Add(path); err != nil {
				return fmt.Errorf("watch %q: %w", path, err)
			}
		}
		return nil
	})
}

// Run processes filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("watcher: %v", err)
		}
	}
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	// Directories created under a watch root during the session must be
	// watched too, or markers dropped there go unseen.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.Add(event.Name); err != nil {
				log.Printf("watcher: cannot watch new directory %q: %v", event.Name, err)
			}
			return
		}
	}

	if !strings.EqualFold(filepath.Ext(event.Name), markerExt) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		doc := w.documentFor(event.Name)
		if doc == "" {
			log.Printf("watcher: no document found for marker %q", event.Name)
			return
		}
		w.mu.Lock()
		w.open[event.Name] = doc
		w.mu.Unlock()
		w.handler.OnFileOpened(ctx, doc, false)

	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		doc, ok := w.open[event.Name]
		delete(w.open, event.Name)
		w.mu.Unlock()
		if !ok {
			// Marker was created before we started watching.
			doc = w.documentFor(event.Name)
		}
		if doc == "" {
			return
		}
		w.handler.OnFileClosed(ctx, doc)
	}
}

// documentFor resolves a marker path to the document it guards. Editors
// write either "model.rhl" for "model.3dm" or the full "model.3dm.rhl".
func (w *Watcher) documentFor(marker string) string {
	base := strings.TrimSuffix(marker, filepath.Ext(marker))

	// "model.3dm.rhl" keeps the document extension in the stem.
	for _, ext := range w.exts {
		if strings.EqualFold(filepath.Ext(base), ext) {
			if fileExists(base) {
				return base
			}
		}
	}
	// "model.rhl": try each tracked extension.
	for _, ext := range w.exts {
		candidate := base + ext
		if fileExists(candidate) {
			return candidate
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
