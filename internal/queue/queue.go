// Package queue implements the durable task FIFO: an in-memory
// channel of domain.PendingTask handles, mirrored by PendingTask rows in
// Storage for crash recovery. The channel is the only hand-off point
// between the admission front and the worker pool.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/storage"
)

// ErrShutdown is returned by Dequeue once the queue has been closed and
// drained.
var ErrShutdown = fmt.Errorf("queue: shut down")

// PersistentQueue is a bounded FIFO backed by Storage. Enqueue is performed
// by Storage.EnqueueTask (which commits the PendingTask row and the
// session-state flip atomically); this type only owns the in-memory
// ordering and blocking handoff to workers.
type PersistentQueue struct {
	store storage.Storage
	ch    chan domain.PendingTask
	done  chan struct{}
}

// New creates a queue with room for maxLen in-flight handles. maxLen should
// match global_limits.queue_max_length so a full in-memory channel can never
// diverge from the durable bound enforced by Storage.EnqueueTask.
func New(store storage.Storage, maxLen int) *PersistentQueue {
	if maxLen <= 0 {
		maxLen = 1
	}
	return &PersistentQueue{
		store: store,
		ch:    make(chan domain.PendingTask, maxLen),
		done:  make(chan struct{}),
	}
}

// Rehydrate loads ListPendingTasksOrdered and replays every row into the
// channel, ascending enqueued_at/task_id, so tasks left behind by a crash
// are picked up again on the next startup.
func (q *PersistentQueue) Rehydrate(ctx context.Context) error {
	tasks, err := q.store.ListPendingTasksOrdered(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate queue: %w", err)
	}
	for i, t := range tasks {
		select {
		case q.ch <- t:
		default:
			// The channel's capacity tracks queue_max_length, which bounds
			// enqueue, so this only triggers if the bound shrank across a
			// config reload while rows were pending; log and stop, the
			// remaining rows are still durable and picked up on next start.
			slog.Warn("queue rehydrate: channel full, remaining tasks left for next restart",
				"loaded", i, "pending", len(tasks))
			return nil
		}
	}
	slog.Info("queue rehydrated", "tasks", len(tasks))
	return nil
}

// Push enqueues a handle already durably written by Storage.EnqueueTask.
// Callers must have committed the row first; Push only does the in-memory
// handoff and never itself fails on capacity (the durable bound is checked
// by Storage.EnqueueTask before Push is ever called).
func (q *PersistentQueue) Push(t domain.PendingTask) {
	q.ch <- t
}

// Dequeue blocks until a task is available or the queue is shut down. It
// does not delete the backing row — that is the engine's responsibility
// once the attempt is finalized.
func (q *PersistentQueue) Dequeue(ctx context.Context) (domain.PendingTask, error) {
	select {
	case t, ok := <-q.ch:
		if !ok {
			return domain.PendingTask{}, ErrShutdown
		}
		return t, nil
	case <-q.done:
		return domain.PendingTask{}, ErrShutdown
	case <-ctx.Done():
		return domain.PendingTask{}, ctx.Err()
	}
}

// Shutdown stops accepting new dequeues. Tasks still in the channel are
// simply left for the database-backed rehydrate on next startup; they are
// never lost because the row is the source of truth, not the channel.
func (q *PersistentQueue) Shutdown() {
	close(q.done)
}

// Len reports the number of handles currently buffered in memory, used to
// render "queued, approx N ahead".
func (q *PersistentQueue) Len() int {
	return len(q.ch)
}
