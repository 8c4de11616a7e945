package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/syncagent/internal/client/sync/chunk"
	"github.com/dmitrijs2005/syncagent/internal/client/sync/remoteapi"
	"github.com/google/uuid"
)

// EngineConfig carries every tunable named in the spec's configuration
// section (§6.4), already resolved from defaults/JSON/flags by
// internal/client/config.
type EngineConfig struct {
	SyncFolder     string
	ServerURL      string
	AuthToken      func() string
	MachineName    string
	WorkerCount    int
	MaxRetries     int
	RetryMaxDelay  time.Duration
	ScanInterval   time.Duration
	Watcher        WatcherConfig
	IgnorePatterns []string
	ChunkMin       int
	ChunkAvg       int
	ChunkMax       int
}

// Engine is the "Glue/supervision" component: it owns the context tree
// for every loop (watcher, scanner, coordinator, worker pool), builds
// the collaborators from EngineConfig, and holds the single-instance
// daemon.lock described in the spec's local state storage layout —
// grounded on the teacher's server/app.go (App.Run/initSignalHandler
// shape), adapted from a gRPC-server-plus-signal-handler supervisor to
// one that supervises the sync loops instead.
type Engine struct {
	cfg    EngineConfig
	key    []byte
	logger *slog.Logger

	store   Store
	remote  remoteapi.RemoteAPI
	queue   *EventQueue
	ignore  *IgnoreSet
	watcher *Watcher
	scanner *Scanner
	pool    *WorkerPool
	coord   *Coordinator

	lock *daemonLock

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewEngine wires every collaborator together but starts nothing.
func NewEngine(cfg EngineConfig, key []byte, store Store, remote remoteapi.RemoteAPI, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 300 * time.Second
	}
	if cfg.Watcher.DebounceDelay <= 0 || cfg.Watcher.SettleDelay <= 0 {
		cfg.Watcher = DefaultWatcherConfig()
	}

	ignore := NewIgnoreSet(cfg.IgnorePatterns)
	if err := ignore.LoadFile(filepath.Join(cfg.SyncFolder, ".syncignore")); err != nil {
		return nil, fmt.Errorf("loading .syncignore: %w", err)
	}

	queue := NewEventQueue()

	watcher, err := NewWatcher(cfg.SyncFolder, queue, ignore, cfg.Watcher, logger)
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	scanner := &Scanner{
		Root:   cfg.SyncFolder,
		Remote: remote,
		Store:  store,
		Ignore: ignore,
		Queue:  queue,
		Logger: logger,
	}

	chunker := chunk.NewChunker(chunkOrDefault(cfg.ChunkMin, chunk.DefaultMinSize),
		chunkOrDefault(cfg.ChunkAvg, chunk.DefaultAvgSize),
		chunkOrDefault(cfg.ChunkMax, chunk.DefaultMaxSize))

	downloadWorker := &DownloadWorker{
		Root: cfg.SyncFolder, Remote: remote, Store: store, Key: key,
		MachineName: cfg.MachineName, Queue: queue,
		MaxRetries: cfg.MaxRetries, MaxDelay: cfg.RetryMaxDelay, Logger: logger,
	}
	uploadWorker := &UploadWorker{
		Root: cfg.SyncFolder, Remote: remote, Store: store, Key: key,
		Chunker: chunker, MachineName: cfg.MachineName, Downloader: downloadWorker, Queue: queue,
		MaxRetries: cfg.MaxRetries, MaxDelay: cfg.RetryMaxDelay, Logger: logger,
	}

	workers := map[TransferKind]Worker{
		Upload:   uploadWorker,
		Download: downloadWorker,
		Delete:   &DeleteWorker{Root: cfg.SyncFolder, Remote: remote, Store: store, Logger: logger},
	}

	pool := NewWorkerPool(context.Background(), cfg.WorkerCount, cfg.WorkerCount*2)
	coord := NewCoordinator(queue, pool, workers, logger)

	return &Engine{
		cfg: cfg, key: key, logger: logger,
		store: store, remote: remote, queue: queue, ignore: ignore,
		watcher: watcher, scanner: scanner, pool: pool, coord: coord,
		lock: newDaemonLock(filepath.Join(stateDirOf(cfg.SyncFolder), "daemon.lock")),
	}, nil
}

func chunkOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// stateDirOf returns ~/.<agent>-like state dir; callers normally pass
// the already-resolved directory via config, this is only a fallback.
func stateDirOf(syncFolder string) string { return syncFolder }

// Stats exposes the coordinator's running counters.
func (e *Engine) Stats() CoordinatorStats { return e.coord.Stats() }

// SetOnConflict forwards to the coordinator.
func (e *Engine) SetOnConflict(fn ConflictHandler) { e.coord.SetOnConflict(fn) }

// Start acquires the single-instance lock, performs the startup scan
// after the watcher is fully armed (per the §4.1 ordering rule), then
// launches the watcher, periodic scanner and coordinator loops. It
// returns once everything is running; call Wait or select on ctx.Done
// to block until Shutdown.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.lock.Acquire(); err != nil {
		return fmt.Errorf("another agent instance is already running: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.watcher.Start(); err != nil {
		cancel()
		_ = e.lock.Release()
		return fmt.Errorf("starting watcher: %w", err)
	}

	local, err := e.scanner.ScanLocal(runCtx)
	if err != nil {
		e.logger.Warn("startup local scan failed", "error", err)
	}
	remote, err := e.scanner.FetchRemote(runCtx)
	if err != nil {
		e.logger.Warn("startup remote scan failed", "error", err)
	}
	e.scanner.Emit(local, remote)

	e.wg.Add(3)
	go func() { defer e.wg.Done(); e.watcher.Run(runCtx) }()
	go func() { defer e.wg.Done(); e.coord.Run(runCtx) }()
	go func() { defer e.wg.Done(); e.runScanLoop(runCtx) }()

	if err := e.remote.Subscribe(runCtx, e.onPush); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("push subscription ended", "error", err)
	}

	e.logger.Info("sync engine started", "sync_folder", e.cfg.SyncFolder, "workers", e.cfg.WorkerCount)
	return nil
}

func (e *Engine) onPush(msg remoteapi.PushMessage) {
	if msg.Path == "" {
		return
	}
	eventType := RemoteModified
	switch msg.Type {
	case "created":
		eventType = RemoteCreated
	case "deleted":
		eventType = RemoteDeleted
	}
	version := msg.Version
	_ = e.queue.Put(SyncEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    SourceRemote,
		Path:      Clean(msg.Path),
		Timestamp: time.Now(),
		Metadata:  EventMetadata{ServerVersion: &version},
	})
}

func (e *Engine) runScanLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			local, err := e.scanner.ScanLocal(ctx)
			if err != nil {
				e.logger.Warn("periodic local scan failed", "error", err)
				continue
			}
			remote, err := e.scanner.FetchRemote(ctx)
			if err != nil {
				e.logger.Warn("periodic remote scan failed", "error", err)
				continue
			}
			e.scanner.Emit(local, remote)
		}
	}
}

// Shutdown stops every loop, cancels in-flight transfers, closes the
// watcher and worker pool, and releases the daemon lock.
func (e *Engine) Shutdown() {
	if e.cancel != nil {
		e.cancel()
	}
	e.coord.Shutdown()
	e.wg.Wait()
	_ = e.watcher.Close()
	e.pool.Close()
	_ = e.lock.Release()
	e.logger.Info("sync engine stopped")
}

// daemonLock is a simple PID-file-based single-instance guard. No
// cross-platform file-locking library appears anywhere in the example
// corpus (see DESIGN.md), so this is deliberately a minimal stdlib
// O_EXCL create rather than a flock/syscall-based advisory lock.
type daemonLock struct {
	path string
}

func newDaemonLock(path string) *daemonLock { return &daemonLock{path: path} }

func (l *daemonLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			if stalePID, ok := readStalePID(l.path); ok && !processAlive(stalePID) {
				_ = os.Remove(l.path)
				return l.Acquire()
			}
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strconv.Itoa(os.Getpid()))
	return err
}

func (l *daemonLock) Release() error {
	return os.Remove(l.path)
}

func readStalePID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
