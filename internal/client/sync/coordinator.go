package sync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// CoordinatorStats mirrors the teacher's CoordinatorStats counters for
// observability (exposed by the engine's status endpoint/log lines).
type CoordinatorStats struct {
	EventsProcessed    int64
	UploadsCompleted   int64
	DownloadsCompleted int64
	DeletesCompleted   int64
	TransfersCancelled int64
	ConflictsDetected  int64
	Errors             int64
}

// eventToTransferKind implements the declarative event->transfer mapping
// from original_source's _event_to_transfer_type.
func eventToTransferKind(t EventType) (TransferKind, bool) {
	switch t {
	case LocalCreated, LocalModified:
		return Upload, true
	case RemoteCreated, RemoteModified:
		return Download, true
	case LocalDeleted, RemoteDeleted:
		return Delete, true
	default:
		return 0, false
	}
}

// ConflictHandler is notified when the decision matrix flags a potential
// conflict between an in-flight transfer and a newly arrived event.
type ConflictHandler func(path RelativePath, existing SyncEvent, incoming SyncEvent, action DecisionAction)

// Coordinator is the single consumer of the EventQueue: it applies the
// decision matrix to concurrent events and dispatches new ones to the
// worker pool, grounded on original_source's SyncCoordinator
// (_process_event/_handle_concurrent/_dispatch) but expressed as one
// goroutine submitting jobs to a channel-based pool instead of running
// workers inline.
type Coordinator struct {
	queue     *EventQueue
	pool      *WorkerPool
	tracker   *TransferTracker
	workers   map[TransferKind]Worker
	logger    *slog.Logger
	onConflict ConflictHandler
	onComplete func(*Transfer, error)

	stats CoordinatorStats

	mu      sync.Mutex
	cancels map[RelativePath]context.CancelFunc
}

// NewCoordinator builds a Coordinator. workers must cover Upload,
// Download and Delete before Run is started.
func NewCoordinator(queue *EventQueue, pool *WorkerPool, workers map[TransferKind]Worker, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		queue:   queue,
		pool:    pool,
		tracker: NewTransferTracker(),
		workers: workers,
		logger:  logger,
		cancels: make(map[RelativePath]context.CancelFunc),
	}
}

// SetOnConflict registers the conflict callback.
func (c *Coordinator) SetOnConflict(fn ConflictHandler) { c.onConflict = fn }

// SetOnTransferComplete registers a callback invoked after every terminal
// transfer, successful or not.
func (c *Coordinator) SetOnTransferComplete(fn func(*Transfer, error)) { c.onComplete = fn }

// Stats returns a snapshot of the running counters.
func (c *Coordinator) Stats() CoordinatorStats {
	return CoordinatorStats{
		EventsProcessed:    atomic.LoadInt64(&c.stats.EventsProcessed),
		UploadsCompleted:   atomic.LoadInt64(&c.stats.UploadsCompleted),
		DownloadsCompleted: atomic.LoadInt64(&c.stats.DownloadsCompleted),
		DeletesCompleted:   atomic.LoadInt64(&c.stats.DeletesCompleted),
		TransfersCancelled: atomic.LoadInt64(&c.stats.TransfersCancelled),
		ConflictsDetected:  atomic.LoadInt64(&c.stats.ConflictsDetected),
		Errors:             atomic.LoadInt64(&c.stats.Errors),
	}
}

// Run consumes events until ctx is cancelled. It is meant to be run in
// its own goroutine by the engine.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		event, ok := c.queue.Take(ctx)
		if !ok {
			return
		}
		c.processEvent(ctx, event)
	}
}

func (c *Coordinator) processEvent(ctx context.Context, event SyncEvent) {
	atomic.AddInt64(&c.stats.EventsProcessed, 1)
	c.logger.Debug("processing sync event", "path", string(event.Path), "type", event.Type.String())

	if existing, ok := c.tracker.GetActive(event.Path); ok {
		c.handleConcurrent(event, existing)
		return
	}
	c.dispatch(ctx, event)
}

func (c *Coordinator) handleConcurrent(newEvent SyncEvent, existing *Transfer) {
	action, reason := decide(newEvent, existing.Kind)
	c.logger.Info("concurrent event", "path", string(newEvent.Path), "new_type", newEvent.Type.String(),
		"existing_kind", existing.Kind.String(), "action", action.String(), "reason", reason)

	switch action {
	case ActionCancelAndRequeue:
		existing.Cancel()
		atomic.AddInt64(&c.stats.TransfersCancelled, 1)
		// The old transfer's worker goroutine may still be running;
		// Cancel() only flips status synchronously. Wait for it to
		// actually return (and be un-tracked) before requeuing, so
		// the replacement dispatch never overlaps with it — this is
		// what keeps at-most-one-transfer-in-flight-per-path true
		// even across a cancel/requeue.
		go func(old *Transfer, ev SyncEvent) {
			<-old.Done()
			_ = c.queue.Put(ev)
		}(existing, newEvent)
	case ActionMarkConflict:
		var serverVersion int64
		if newEvent.Metadata.ServerVersion != nil {
			serverVersion = *newEvent.Metadata.ServerVersion
		}
		existing.MarkConflict("remote-modified-during-upload", serverVersion)
		atomic.AddInt64(&c.stats.ConflictsDetected, 1)
		if c.onConflict != nil {
			c.onConflict(newEvent.Path, existing.Event, newEvent, action)
		}
	case ActionCreateConflictCopy:
		existing.MarkConflict("remote-deleted-during-upload", 0)
		atomic.AddInt64(&c.stats.ConflictsDetected, 1)
		if c.onConflict != nil {
			c.onConflict(newEvent.Path, existing.Event, newEvent, action)
		}
	case ActionIgnore:
		// Already handling this path in the direction that wins.
	}
}

func (c *Coordinator) dispatch(ctx context.Context, event SyncEvent) {
	kind, ok := eventToTransferKind(event.Type)
	if !ok {
		c.logger.Debug("no action for event", "type", event.Type.String())
		return
	}

	worker, ok := c.workers[kind]
	if !ok {
		c.logger.Warn("no worker registered", "kind", kind.String())
		return
	}

	transferCtx, cancel := context.WithCancel(ctx)
	transfer := c.tracker.Create(event.Path, kind, event, cancel)

	c.mu.Lock()
	c.cancels[event.Path] = cancel
	c.mu.Unlock()

	c.logger.Info("starting transfer", "kind", kind.String(), "path", string(event.Path))

	submitted := c.pool.Submit(transferCtx, transfer, worker, func(t *Transfer, err error) {
		c.onTransferDone(t, err)
	})
	if !submitted {
		cancel()
		transfer.finish()
		c.tracker.Remove(event.Path, transfer)
	}
}

func (c *Coordinator) onTransferDone(t *Transfer, err error) {
	switch t.Status() {
	case Completed:
		switch t.Kind {
		case Upload:
			atomic.AddInt64(&c.stats.UploadsCompleted, 1)
		case Download:
			atomic.AddInt64(&c.stats.DownloadsCompleted, 1)
		case Delete:
			atomic.AddInt64(&c.stats.DeletesCompleted, 1)
		}
		c.logger.Info("transfer completed", "path", string(t.Path), "kind", t.Kind.String())
	case Cancelled:
		c.logger.Info("transfer cancelled", "path", string(t.Path))
	case Failed:
		atomic.AddInt64(&c.stats.Errors, 1)
		c.logger.Error("transfer failed", "path", string(t.Path), "error", err)
	}

	c.mu.Lock()
	delete(c.cancels, t.Path)
	c.mu.Unlock()
	c.tracker.Remove(t.Path, t)

	if c.onComplete != nil {
		c.onComplete(t, err)
	}
}

// CancelTransfer requests cancellation of any active transfer for path.
// It reports whether one was active.
func (c *Coordinator) CancelTransfer(path RelativePath) bool {
	t, ok := c.tracker.GetActive(path)
	if !ok {
		return false
	}
	t.Cancel()
	return true
}

// ActiveTransfers returns all transfers currently in flight.
func (c *Coordinator) ActiveTransfers() []*Transfer { return c.tracker.AllActive() }

// Shutdown cancels every active transfer. Call after the queue and pool
// have stopped accepting new work.
func (c *Coordinator) Shutdown() { c.tracker.CancelAll() }
