package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastTestWatcherConfig() WatcherConfig {
	return WatcherConfig{DebounceDelay: 20 * time.Millisecond, SettleDelay: 60 * time.Millisecond}
}

func newRunningWatcher(t *testing.T, root string) (*Watcher, *EventQueue, context.CancelFunc) {
	t.Helper()
	queue := NewEventQueue()
	w, err := NewWatcher(root, queue, NewIgnoreSet(nil), fastTestWatcherConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() { w.Close() })
	return w, queue, cancel
}

func takeWithTimeout(t *testing.T, q *EventQueue, timeout time.Duration) (SyncEvent, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return q.Take(ctx)
}

func TestWatcher_DetectsFileCreation(t *testing.T) {
	root := t.TempDir()
	_, queue, cancel := newRunningWatcher(t, root)
	defer cancel()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	ev, ok := takeWithTimeout(t, queue, 2*time.Second)
	require.True(t, ok, "expected a queued event for the new file")
	assert.Equal(t, RelativePath("a.txt"), ev.Path)
	// the create's underlying fsnotify op sequence (CREATE then WRITE on
	// most platforms for a single WriteFile call) settles to whichever
	// op fired last, so either local create or modify is acceptable here.
	assert.Contains(t, []EventType{LocalCreated, LocalModified}, ev.Type)
	require.NotNil(t, ev.Metadata.Size)
	assert.EqualValues(t, 5, *ev.Metadata.Size)
}

func TestWatcher_DetectsFileDeletion(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	_, queue, cancel := newRunningWatcher(t, root)
	defer cancel()

	require.NoError(t, os.Remove(path))

	ev, ok := takeWithTimeout(t, queue, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, RelativePath("a.txt"), ev.Path)
	assert.Equal(t, LocalDeleted, ev.Type)
}

func TestWatcher_BurstOfWritesCoalescesToOneEvent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	_, queue, cancel := newRunningWatcher(t, root)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("v"+string(rune('0'+i))), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	ev, ok := takeWithTimeout(t, queue, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, RelativePath("a.txt"), ev.Path)

	// nothing further should be queued for this path once settled
	_, ok = queue.Remove("a.txt")
	assert.False(t, ok, "the burst should have coalesced to a single already-taken event")
}

func TestWatcher_IgnoresIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	queue := NewEventQueue()
	w, err := NewWatcher(root, queue, NewIgnoreSet([]string{"*.tmp"}), fastTestWatcherConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.txt"), []byte("x"), 0o644))

	ev, ok := takeWithTimeout(t, queue, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, RelativePath("real.txt"), ev.Path, "ignored file must never surface an event")
}

func TestWatcher_DetectsChangeInNewlyCreatedSubdirectory(t *testing.T) {
	root := t.TempDir()
	_, queue, cancel := newRunningWatcher(t, root)
	defer cancel()

	subdir := filepath.Join(root, "newdir")
	require.NoError(t, os.Mkdir(subdir, 0o755))
	time.Sleep(50 * time.Millisecond) // let handleEvent register the new watch
	require.NoError(t, os.WriteFile(filepath.Join(subdir, "nested.txt"), []byte("x"), 0o644))

	ev, ok := takeWithTimeout(t, queue, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, RelativePath("newdir/nested.txt"), ev.Path)
}
