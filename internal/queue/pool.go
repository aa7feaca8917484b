package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/promptchallenge/engine/internal/domain"
)

// TaskExecutor is the interface for per-task processing. The engine owns
// the entire attempt lifecycle internally; the worker only handles
// dequeue, health tracking, and graceful shutdown.
type TaskExecutor interface {
	ProcessTask(ctx context.Context, task domain.PendingTask) error
}

// WorkerPool runs N workers (N = worker_concurrency) each looping
// dequeue→execute.
type WorkerPool struct {
	queue    *PersistentQueue
	executor TaskExecutor
	workers  []*Worker
	wg       sync.WaitGroup
}

// NewWorkerPool constructs an unstarted pool of n workers.
func NewWorkerPool(q *PersistentQueue, executor TaskExecutor, n int) *WorkerPool {
	if n <= 0 {
		n = 1
	}
	p := &WorkerPool{queue: q, executor: executor}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, newWorker(i, q, executor))
	}
	return p
}

// Start spawns every worker's goroutine.
func (p *WorkerPool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.run(ctx)
		}(w)
	}
	slog.Info("worker pool started", "workers", len(p.workers))
}

// Stop signals the queue shut down and waits up to drainDeadline for
// in-flight workers to finish their current task. PendingTask rows still
// owned by a worker that didn't drain in time survive for the next run.
func (p *WorkerPool) Stop(drainDeadline time.Duration) {
	p.queue.Shutdown()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("worker pool drained cleanly")
	case <-time.After(drainDeadline):
		slog.Warn("worker pool drain deadline exceeded; remaining tasks persist for next run")
	}
}

// Size reports the configured number of workers.
func (p *WorkerPool) Size() int {
	return len(p.workers)
}

// BusyCount reports how many workers are currently processing a task, used
// by the workers_busy gauge.
func (p *WorkerPool) BusyCount() int {
	n := 0
	for _, w := range p.workers {
		if w.health().Status == WorkerStatusWorking {
			n++
		}
	}
	return n
}

// Health summarizes every worker's current status for the admin stats
// surface.
func (p *WorkerPool) Health() []WorkerHealth {
	out := make([]WorkerHealth, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.health()
	}
	return out
}
