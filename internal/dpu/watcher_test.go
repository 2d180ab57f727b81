package dpu

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/unifiedviews/internal/logging"
)

func TestTranslate(t *testing.T) {
	w := NewWatcher("/lib", logging.Discard())
	tests := []struct {
		name  string
		event fsnotify.Event
		want  Event
		ok    bool
	}{
		{name: "create", event: fsnotify.Event{Name: "/lib/x/x-1.0.jar", Op: fsnotify.Create}, want: Event{Kind: JarAdded, Directory: "x", JarName: "x-1.0.jar"}, ok: true},
		{name: "write", event: fsnotify.Event{Name: "/lib/x/x-1.0.jar", Op: fsnotify.Write}, want: Event{Kind: JarChanged, Directory: "x", JarName: "x-1.0.jar"}, ok: true},
		{name: "remove", event: fsnotify.Event{Name: "/lib/x/x-1.0.jar", Op: fsnotify.Remove}, want: Event{Kind: JarRemoved, Directory: "x", JarName: "x-1.0.jar"}, ok: true},
		{name: "rename", event: fsnotify.Event{Name: "/lib/x/x-1.0.JAR", Op: fsnotify.Rename}, want: Event{Kind: JarRemoved, Directory: "x", JarName: "x-1.0.JAR"}, ok: true},
		{name: "chmod", event: fsnotify.Event{Name: "/lib/x/x-1.0.jar", Op: fsnotify.Chmod}},
		{name: "not a jar", event: fsnotify.Event{Name: "/lib/x/readme.txt", Op: fsnotify.Create}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := w.translate(tt.event)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
	assert.Equal(t, "x/x-1.0.jar removed", Event{Kind: JarRemoved, Directory: "x", JarName: "x-1.0.jar"}.String())
}

func TestWatcherRun(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "uv-e-w")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []Event
	done := make(chan error, 1)
	go func() {
		done <- NewWatcher(root, logging.Discard()).Run(ctx, func(e Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		})
	}()

	// the watch is set up asynchronously; keep creating JARs until one is seen
	i := 0
	require.Eventually(t, func() bool {
		i++
		name := filepath.Join(dir, fmt.Sprintf("uv-e-w-1.%d.jar", i))
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e.Kind == JarAdded && e.Directory == "uv-e-w" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
