package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadvault/drivelock/internal/coordinator"
)

// fakeHandler records synthesized events.
type fakeHandler struct {
	mu     sync.Mutex
	opened []string
	closed []string
}

func (f *fakeHandler) OnFileOpened(ctx context.Context, path string, imported bool) coordinator.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, path)
	return coordinator.Result{Outcome: coordinator.OutcomeLockRequested}
}

func (f *fakeHandler) OnFileClosed(ctx context.Context, path string) coordinator.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, path)
	return coordinator.Result{Outcome: coordinator.OutcomeUnlockRequested}
}

func (f *fakeHandler) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...), append([]string(nil), f.closed...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func startWatcher(t *testing.T, dir string) (*Watcher, *fakeHandler) {
	t.Helper()
	handler := &fakeHandler{}
	w, err := New(handler, []string{".3dm"})
	require.NoError(t, err)
	require.NoError(t, w.Add(dir))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	go w.Run(ctx)
	return w, handler
}

func TestMarkerCreate_EmitsOpen(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "model.3dm")
	require.NoError(t, os.WriteFile(doc, []byte("model"), 0644))

	_, handler := startWatcher(t, dir)

	marker := filepath.Join(dir, "model.rhl")
	require.NoError(t, os.WriteFile(marker, []byte("host"), 0644))

	waitFor(t, func() bool {
		opened, _ := handler.snapshot()
		return len(opened) == 1
	})
	opened, _ := handler.snapshot()
	assert.Equal(t, doc, opened[0])
}

func TestMarkerRemove_EmitsClose(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "model.3dm")
	require.NoError(t, os.WriteFile(doc, []byte("model"), 0644))

	_, handler := startWatcher(t, dir)

	marker := filepath.Join(dir, "model.rhl")
	require.NoError(t, os.WriteFile(marker, []byte("host"), 0644))
	waitFor(t, func() bool {
		opened, _ := handler.snapshot()
		return len(opened) == 1
	})

	require.NoError(t, os.Remove(marker))
	waitFor(t, func() bool {
		_, closed := handler.snapshot()
		return len(closed) == 1
	})
	_, closed := handler.snapshot()
	assert.Equal(t, doc, closed[0])
}

func TestFullFormMarker(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "model.3dm")
	require.NoError(t, os.WriteFile(doc, []byte("model"), 0644))

	_, handler := startWatcher(t, dir)

	// Some editor versions append the marker extension to the full name.
	marker := filepath.Join(dir, "model.3dm.rhl")
	require.NoError(t, os.WriteFile(marker, []byte("host"), 0644))

	waitFor(t, func() bool {
		opened, _ := handler.snapshot()
		return len(opened) == 1
	})
	opened, _ := handler.snapshot()
	assert.Equal(t, doc, opened[0])
}

func TestNonMarkerFiles_Ignored(t *testing.T) {
	dir := t.TempDir()
	_, handler := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.3dm"), []byte("model"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	time.Sleep(200 * time.Millisecond)
	opened, closed := handler.snapshot()
	assert.Empty(t, opened)
	assert.Empty(t, closed)
}

func TestDirectoryCreatedMidSession_IsWatched(t *testing.T) {
	dir := t.TempDir()
	_, handler := startWatcher(t, dir)

	sub := filepath.Join(dir, "project-a")
	require.NoError(t, os.Mkdir(sub, 0755))
	// Give the event loop a moment to register the new directory.
	time.Sleep(300 * time.Millisecond)

	doc := filepath.Join(sub, "model.3dm")
	require.NoError(t, os.WriteFile(doc, []byte("model"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "model.rhl"), []byte("host"), 0644))

	waitFor(t, func() bool {
		opened, _ := handler.snapshot()
		return len(opened) == 1
	})
	opened, _ := handler.snapshot()
	assert.Equal(t, doc, opened[0])
}

func TestMarkerWithoutDocument_Ignored(t *testing.T) {
	dir := t.TempDir()
	_, handler := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "orphan.rhl"), []byte("host"), 0644))

	time.Sleep(200 * time.Millisecond)
	opened, _ := handler.snapshot()
	assert.Empty(t, opened)
}
