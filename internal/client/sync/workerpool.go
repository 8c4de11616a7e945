package sync

import (
	"context"
	"sync"
)

// Worker executes one transfer operation. progress reports (current,
// total) bytes or chunks transferred so far; it may be nil.
type Worker interface {
	Execute(ctx context.Context, event SyncEvent, progress func(current, total int64)) error
}

// job is a unit of work submitted to the pool: an event plus the
// Transfer that already tracks it and the worker that should run it.
type job struct {
	transfer *Transfer
	worker   Worker
	onDone   func(*Transfer, error)
}

// WorkerPool runs a fixed number of goroutines pulling jobs off a
// channel, the idiomatic Go replacement for the teacher's in-thread
// worker.execute() call — §4.4/§5 require a real pool rather than
// running transfers on the coordinator's own goroutine.
type WorkerPool struct {
	jobs chan job
	wg   sync.WaitGroup
}

// NewWorkerPool starts count worker goroutines. queueDepth bounds how
// many jobs may be buffered before Submit blocks.
func NewWorkerPool(ctx context.Context, count, queueDepth int) *WorkerPool {
	if count <= 0 {
		count = 1
	}
	p := &WorkerPool{jobs: make(chan job, queueDepth)}
	p.wg.Add(count)
	for i := 0; i < count; i++ {
		go p.loop(ctx)
	}
	return p
}

func (p *WorkerPool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(ctx, j)
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, j job) {
	if err := j.transfer.Start(); err != nil {
		j.onDone(j.transfer, err)
		return
	}

	err := j.worker.Execute(ctx, j.transfer.Event, nil)

	switch {
	case j.transfer.Status() == Cancelled:
		// Cancel() already performed the terminal transition.
	case err != nil:
		_ = j.transfer.Fail()
	default:
		_ = j.transfer.Complete()
	}
	j.transfer.finish()
	j.onDone(j.transfer, err)
}

// Submit enqueues a job. It blocks if the queue is full and returns early
// if ctx is cancelled first.
func (p *WorkerPool) Submit(ctx context.Context, t *Transfer, w Worker, onDone func(*Transfer, error)) bool {
	select {
	case p.jobs <- job{transfer: t, worker: w, onDone: onDone}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops accepting new jobs and waits for in-flight jobs to drain
// (callers should have already cancelled ctx so Execute calls return
// promptly).
func (p *WorkerPool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
