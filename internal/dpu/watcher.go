package dpu

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/labstack/gommon/log"
)

// EventKind classifies a change of a JAR in the library.
type EventKind string

const (
	JarAdded   EventKind = "added"
	JarChanged EventKind = "changed"
	JarRemoved EventKind = "removed"
)

// Event is a change of a JAR made in the library directory.
type Event struct {
	Kind EventKind `json:"kind"`

	// Directory is the template directory below the library root.
	Directory string `json:"directory"`
	JarName   string `json:"jarName"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s/%s %s", e.Directory, e.JarName, e.Kind)
}

// Watcher reports JARs added, replaced or removed in the DPU library,
// including changes made outside the application.
type Watcher struct {
	root   string
	logger *log.Logger
}

// NewWatcher creates a watcher for the library rooted at dir.
func NewWatcher(dir string, logger *log.Logger) *Watcher {
	return &Watcher{root: dir, logger: logger}
}

// Run watches the library and its template directories until ctx is done.
func (w *Watcher) Run(ctx context.Context, handler func(Event)) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("failed to create DPU library: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := fw.Add(filepath.Join(w.root, entry.Name())); err != nil {
				w.logger.Warnf("Failed to watch %s: %v", entry.Name(), err)
			}
		}
	}
	w.logger.Infof("Watching DPU library %s", w.root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnf("DPU library watcher: %v", err)
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.Add(event.Name); err != nil {
						w.logger.Warnf("Failed to watch %s: %v", event.Name, err)
					}
					continue
				}
			}
			if e, ok := w.translate(event); ok {
				w.logger.Debugf("DPU library change: %s", e)
				handler(e)
			}
		}
	}
}

// translate maps a filesystem event on a JAR to an Event.
func (w *Watcher) translate(event fsnotify.Event) (Event, bool) {
	if !strings.EqualFold(filepath.Ext(event.Name), ".jar") {
		return Event{}, false
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return Event{}, false
	}
	dir, file := filepath.Split(rel)
	e := Event{Directory: filepath.Clean(dir), JarName: file}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		e.Kind = JarRemoved
	case event.Has(fsnotify.Create):
		e.Kind = JarAdded
	case event.Has(fsnotify.Write):
		e.Kind = JarChanged
	default:
		return Event{}, false
	}
	return e, true
}
