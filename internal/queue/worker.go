package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// WorkerStatus is a worker's current activity for health reporting.
type WorkerStatus string

// Worker status values.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a point-in-time snapshot of one worker.
type WorkerHealth struct {
	ID             int
	Status         WorkerStatus
	CurrentTaskID  string
	TasksProcessed int
	LastActivity   time.Time
}

// Worker dequeues and executes tasks one at a time.
type Worker struct {
	id       int
	queue    *PersistentQueue
	executor TaskExecutor

	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
}

func newWorker(id int, q *PersistentQueue, executor TaskExecutor) *Worker {
	return &Worker{id: id, queue: q, executor: executor, status: WorkerStatusIdle, lastActivity: time.Now()}
}

func (w *Worker) run(ctx context.Context) {
	log := slog.With("worker_id", w.id)
	log.Info("worker started")
	defer log.Info("worker stopped")

	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrShutdown) || errors.Is(err, context.Canceled) {
				return
			}
			log.Error("dequeue error", "error", err)
			continue
		}

		w.setWorking(task.TaskID)
		if err := w.executor.ProcessTask(ctx, task); err != nil {
			log.Error("task processing failed", "task_id", task.TaskID, "error", err)
		}
		w.setIdle()
	}
}

func (w *Worker) setWorking(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = WorkerStatusWorking
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}

func (w *Worker) setIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = WorkerStatusIdle
	w.currentTaskID = ""
	w.tasksProcessed++
	w.lastActivity = time.Now()
}

func (w *Worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         w.status,
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}
