package sync

import (
	"context"
	"sync"
)

// EventQueue is a thread-safe, priority-ordered, per-path deduplicating
// structure: at most one event per path exists in the queue at any
// instant. It carries no business logic beyond ordering and dedup —
// conflict handling happens at execution time in the coordinator and
// workers, per the design notes.
type EventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events map[RelativePath]SyncEvent
	closed bool
}

// NewEventQueue constructs an empty queue.
func NewEventQueue() *EventQueue {
	q := &EventQueue{events: make(map[RelativePath]SyncEvent)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put adds or replaces the pending event for event.Path. Ties against an
// existing event are broken by compareIncoming (the MtimeAwareComparator):
// when the incoming event is not newer, it is silently discarded and the
// call still reports success — this is what makes the watcher/scanner race
// in §4.1 safe.
func (q *EventQueue) Put(event SyncEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	existing, ok := q.events[event.Path]
	if ok && !compareIncoming(existing, event) {
		return nil
	}

	q.events[event.Path] = event
	q.cond.Signal()
	return nil
}

// compareIncoming implements the MtimeAwareComparator: it reports whether
// incoming should replace existing.
//
//  1. If both carry an mtime: the newer mtime wins; ties go to the newer
//     event timestamp.
//  2. Otherwise the newer event timestamp wins.
func compareIncoming(existing, incoming SyncEvent) bool {
	oldMtime, oldOK := existing.Metadata.Mtime, existing.Metadata.Mtime != nil
	newMtime, newOK := incoming.Metadata.Mtime, incoming.Metadata.Mtime != nil

	if oldOK && newOK {
		if *newMtime != *oldMtime {
			return *newMtime > *oldMtime
		}
		return incoming.Timestamp.After(existing.Timestamp)
	}

	return incoming.Timestamp.After(existing.Timestamp)
}

// Take blocks until an event is available, then returns the
// highest-priority (lowest Priority value), oldest (by Timestamp) event,
// removing it from the queue. It unblocks early if ctx is cancelled or the
// queue is closed, in which case ok is false.
func (q *EventQueue) Take(ctx context.Context) (event SyncEvent, ok bool) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
		close(done)
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return SyncEvent{}, false
		}
		if q.closed && len(q.events) == 0 {
			return SyncEvent{}, false
		}
		if len(q.events) > 0 {
			break
		}
		q.cond.Wait()
	}

	path := q.bestLocked()
	ev := q.events[path]
	delete(q.events, path)
	return ev, true
}

// bestLocked returns the path of the highest-priority, oldest event.
// Caller must hold q.mu and know the map is non-empty.
func (q *EventQueue) bestLocked() RelativePath {
	var best RelativePath
	first := true
	for p, e := range q.events {
		if first {
			best = p
			first = false
			continue
		}
		cur := q.events[best]
		if e.Priority() < cur.Priority() ||
			(e.Priority() == cur.Priority() && e.Timestamp.Before(cur.Timestamp)) {
			best = p
		}
	}
	return best
}

// Remove deletes the pending event for path, if any. Used by the
// coordinator when it cancels a pending operation (e.g. after a
// CANCEL_AND_REQUEUE decision resolves without a replacement event).
func (q *EventQueue) Remove(path RelativePath) (SyncEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ev, ok := q.events[path]
	if ok {
		delete(q.events, path)
	}
	return ev, ok
}

// Size returns the number of pending events.
func (q *EventQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Snapshot returns a copy of all pending events, for observability.
func (q *EventQueue) Snapshot() []SyncEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]SyncEvent, 0, len(q.events))
	for _, e := range q.events {
		out = append(out, e)
	}
	return out
}

// Close marks the queue closed and wakes any blocked Take calls.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
