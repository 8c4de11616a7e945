package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// WatcherConfig mirrors the spec's debounce_ms/settle_ms configuration.
type WatcherConfig struct {
	DebounceDelay time.Duration // coalescing window for rapid-fire events on one path
	SettleDelay   time.Duration // quiescence required before a coalesced change is emitted
}

// DefaultWatcherConfig returns the spec's documented defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{DebounceDelay: 250 * time.Millisecond, SettleDelay: 3 * time.Second}
}

type pendingChange struct {
	eventType EventType
	firstSeen time.Time
	lastSeen  time.Time
}

// Watcher wraps fsnotify.Watcher with a two-stage debounce — a short
// coalescing window followed by a settle delay before emission — so
// that a burst of writes to the same file (an editor's save-to-temp-
// then-rename dance, a large copy in progress) produces one SyncEvent
// instead of many, grounded on the skillrunner watcher's pending-map +
// ticker pattern, generalized to two stages and to emit SyncEvent
// instead of a raw WatchEvent.
type Watcher struct {
	root    string
	queue   *EventQueue
	ignore  *IgnoreSet
	cfg     WatcherConfig
	logger  *slog.Logger
	fsw     *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]pendingChange
}

// NewWatcher builds a Watcher over root. The caller must call Start
// before any filesystem changes are expected to be observed, and should
// do so before the first Scanner pass, per the ordering rule in §4.1.
func NewWatcher(root string, queue *EventQueue, ignore *IgnoreSet, cfg WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.DebounceDelay <= 0 || cfg.SettleDelay <= 0 {
		cfg = DefaultWatcherConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:    filepath.Clean(root),
		queue:   queue,
		ignore:  ignore,
		cfg:     cfg,
		logger:  logger,
		fsw:     fsw,
		pending: make(map[string]pendingChange),
	}, nil
}

// Start adds every directory under root to the underlying fsnotify
// watcher. It returns once every fsnotify.Add call has completed, so the
// caller can safely begin its startup scan immediately after.
func (w *Watcher) Start() error {
	return filepath.WalkDir(w.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel := w.relPath(p)
		if rel != "" && w.ignore.ShouldIgnore(rel, true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

// Run processes fsnotify events until ctx is cancelled. It should be run
// in its own goroutine by the engine, alongside the settle-flush loop
// started by Run itself.
func (w *Watcher) Run(ctx context.Context) {
	flushInterval := w.cfg.DebounceDelay
	if flushInterval > w.cfg.SettleDelay {
		flushInterval = w.cfg.SettleDelay
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		case <-ticker.C:
			w.flushSettled()
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

func (w *Watcher) relPath(absPath string) string {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel := w.relPath(event.Name)
	if rel == "" || rel == "." {
		return
	}

	info, statErr := os.Lstat(event.Name)
	isDir := statErr == nil && info.IsDir()
	if isDir && event.Op&fsnotify.Create == fsnotify.Create {
		// Watch newly created subdirectories so nested changes are seen.
		if !w.ignore.ShouldIgnore(rel, true) {
			_ = w.fsw.Add(event.Name)
		}
	}
	if isDir {
		return // only files are synced
	}
	if statErr == nil && info.Mode()&os.ModeSymlink != 0 {
		return
	}
	if w.ignore.ShouldIgnore(rel, false) {
		return
	}

	eventType, ok := convertFsnotifyOp(event.Op)
	if !ok {
		return
	}

	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	existing, had := w.pending[rel]
	first := now
	if had {
		first = existing.firstSeen
	}
	w.pending[rel] = pendingChange{eventType: eventType, firstSeen: first, lastSeen: now}
}

func convertFsnotifyOp(op fsnotify.Op) (EventType, bool) {
	switch {
	case op&fsnotify.Remove == fsnotify.Remove:
		return LocalDeleted, true
	case op&fsnotify.Create == fsnotify.Create:
		return LocalCreated, true
	case op&fsnotify.Write == fsnotify.Write:
		return LocalModified, true
	case op&fsnotify.Rename == fsnotify.Rename:
		return LocalDeleted, true
	default:
		return 0, false
	}
}

// flushSettled emits every pending change whose last update is older
// than both the debounce and settle windows.
func (w *Watcher) flushSettled() {
	now := time.Now()
	w.mu.Lock()
	var ready []string
	for rel, pc := range w.pending {
		if now.Sub(pc.lastSeen) >= w.cfg.DebounceDelay && now.Sub(pc.firstSeen) >= 0 && now.Sub(pc.lastSeen) >= w.cfg.SettleDelay {
			ready = append(ready, rel)
		}
	}
	changes := make(map[string]pendingChange, len(ready))
	for _, rel := range ready {
		changes[rel] = w.pending[rel]
		delete(w.pending, rel)
	}
	w.mu.Unlock()

	for rel, pc := range changes {
		w.emit(rel, pc)
	}
}

func (w *Watcher) emit(rel string, pc pendingChange) {
	absPath := filepath.Join(w.root, filepath.FromSlash(rel))
	meta := EventMetadata{}

	if pc.eventType != LocalDeleted {
		if info, err := os.Stat(absPath); err == nil {
			mtime := float64(info.ModTime().UnixNano()) / 1e9
			size := info.Size()
			meta.Mtime = &mtime
			meta.Size = &size
		}
	}

	event := SyncEvent{
		ID:        uuid.NewString(),
		Type:      pc.eventType,
		Source:    SourceLocal,
		Path:      Clean(strings.ReplaceAll(rel, `\`, "/")),
		Timestamp: pc.lastSeen,
		Metadata:  meta,
	}

	if err := w.queue.Put(event); err != nil {
		w.logger.Warn("failed to queue watcher event", "path", rel, "error", err)
		return
	}
	w.logger.Debug("watcher injected event", "path", rel, "type", pc.eventType.String())
}
