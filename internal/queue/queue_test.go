package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/idgen"
	"github.com/promptchallenge/engine/internal/storage/memstore"
)

func TestQueueFIFO(t *testing.T) {
	q := New(memstore.New(), 10)

	var pushed []string
	for i := 0; i < 5; i++ {
		task := domain.PendingTask{TaskID: idgen.New(), UserID: fmt.Sprintf("user-%d", i), LevelID: 1}
		q.Push(task)
		pushed = append(pushed, task.TaskID)
	}
	assert.Equal(t, 5, q.Len())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		task, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, pushed[i], task.TaskID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueDequeueBlocksUntilPush(t *testing.T) {
	q := New(memstore.New(), 10)

	got := make(chan domain.PendingTask, 1)
	go func() {
		task, err := q.Dequeue(context.Background())
		if err == nil {
			got <- task
		}
	}()

	// Dequeue must not return before something is pushed.
	select {
	case <-got:
		t.Fatal("Dequeue returned with an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(domain.PendingTask{TaskID: "task-1"})
	select {
	case task := <-got:
		assert.Equal(t, "task-1", task.TaskID)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not observe the push")
	}
}

func TestQueueShutdownUnblocksDequeue(t *testing.T) {
	q := New(memstore.New(), 10)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	q.Shutdown()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrShutdown)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Shutdown")
	}
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	q := New(memstore.New(), 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueRehydrateReplaysDurableRows(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	// Simulate rows left behind by a crash: durable tasks with no
	// in-memory handles.
	var want []string
	for i := 0; i < 3; i++ {
		userID := fmt.Sprintf("user-%d", i)
		_, err := store.GetOrCreateUser(ctx, userID, userID)
		require.NoError(t, err)
		task := domain.PendingTask{TaskID: idgen.New(), UserID: userID, LevelID: 1, UserPrompt: "replay"}
		sess := domain.Session{UserID: userID, LevelID: 1, State: domain.SessionInflight, InflightTaskID: task.TaskID}
		require.NoError(t, store.EnqueueTask(ctx, task, sess, 0))
		want = append(want, task.TaskID)
		time.Sleep(time.Millisecond) // distinct enqueued_at for a deterministic order
	}

	q := New(store, 10)
	require.NoError(t, q.Rehydrate(ctx))
	assert.Equal(t, 3, q.Len())

	for i := 0; i < 3; i++ {
		task, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want[i], task.TaskID)
	}
}

// recordingExecutor collects every processed task for assertions.
type recordingExecutor struct {
	mu    sync.Mutex
	tasks []string
	done  chan struct{} // closed once expect tasks have been processed
	left  int
}

func newRecordingExecutor(expect int) *recordingExecutor {
	return &recordingExecutor{done: make(chan struct{}), left: expect}
}

func (r *recordingExecutor) ProcessTask(_ context.Context, task domain.PendingTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task.TaskID)
	r.left--
	if r.left == 0 {
		close(r.done)
	}
	return nil
}

func TestWorkerPoolProcessesAllTasks(t *testing.T) {
	q := New(memstore.New(), 20)
	exec := newRecordingExecutor(10)
	pool := NewWorkerPool(q, exec, 3)

	for i := 0; i < 10; i++ {
		q.Push(domain.PendingTask{TaskID: fmt.Sprintf("task-%02d", i)})
	}

	pool.Start(context.Background())
	select {
	case <-exec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not drain the queue")
	}
	pool.Stop(time.Second)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Len(t, exec.tasks, 10)
}

func TestWorkerPoolSingleWorkerPreservesFIFO(t *testing.T) {
	q := New(memstore.New(), 20)
	exec := newRecordingExecutor(5)
	pool := NewWorkerPool(q, exec, 1)

	var want []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("task-%02d", i)
		q.Push(domain.PendingTask{TaskID: id})
		want = append(want, id)
	}

	pool.Start(context.Background())
	select {
	case <-exec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain the queue")
	}
	pool.Stop(time.Second)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Equal(t, want, exec.tasks)
}

func TestWorkerPoolHealth(t *testing.T) {
	q := New(memstore.New(), 10)
	pool := NewWorkerPool(q, newRecordingExecutor(1), 4)

	health := pool.Health()
	require.Len(t, health, 4)
	for _, h := range health {
		assert.Equal(t, WorkerStatusIdle, h.Status)
		assert.Empty(t, h.CurrentTaskID)
		assert.Zero(t, h.TasksProcessed)
	}
}

func TestWorkerPoolStopWithoutStart(t *testing.T) {
	q := New(memstore.New(), 10)
	pool := NewWorkerPool(q, newRecordingExecutor(1), 2)

	// Stop before Start must not hang or panic.
	pool.Stop(100 * time.Millisecond)
}
