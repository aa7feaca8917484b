package postgres

import (
	"context"
	"fmt"

	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/storage"
)

// EnqueueTask writes the PendingTask row and flips the owning session to
// INFLIGHT in the same transaction — the anti-double-submit barrier.
// Exceeding maxLen aborts with no side effects. Serialization/deadlock
// failures re-run the transaction up to the bounded retry budget.
func (s *Store) EnqueueTask(ctx context.Context, t domain.PendingTask, sess domain.Session, maxLen int) error {
	return withTxRetry(ctx, func(ctx context.Context) error {
		return s.enqueueTask(ctx, t, sess, maxLen)
	})
}

func (s *Store) enqueueTask(ctx context.Context, t domain.PendingTask, sess domain.Session, maxLen int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var depth int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM pending_tasks`).Scan(&depth); err != nil {
		return fmt.Errorf("count queue depth: %w", err)
	}
	if maxLen > 0 && depth >= maxLen {
		return storage.ErrQueueFull
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pending_tasks (task_id, user_id, level_id, user_prompt, enqueued_at)
		VALUES ($1, $2, $3, $4, now())`, t.TaskID, t.UserID, t.LevelID, t.UserPrompt)
	if err != nil {
		return fmt.Errorf("insert pending task: %w", err)
	}

	var cooldown interface{}
	if !sess.CooldownUntil.IsZero() {
		cooldown = sess.CooldownUntil
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (user_id, level_id, state, turn_index, cooldown_until, inflight_task_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id, level_id) DO UPDATE SET
			state = EXCLUDED.state,
			turn_index = EXCLUDED.turn_index,
			cooldown_until = EXCLUDED.cooldown_until,
			inflight_task_id = EXCLUDED.inflight_task_id,
			updated_at = now()`,
		sess.UserID, sess.LevelID, sess.State, sess.TurnIndex, cooldown, sess.InflightTaskID)
	if err != nil {
		return fmt.Errorf("flip session inflight: %w", err)
	}

	return tx.Commit(ctx)
}

// ListPendingTasksOrdered returns all rows ordered by (enqueued_at, task_id),
// used by queue startup rehydration.
func (s *Store) ListPendingTasksOrdered(ctx context.Context) ([]domain.PendingTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, user_id, level_id, user_prompt, enqueued_at
		FROM pending_tasks ORDER BY enqueued_at ASC, task_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingTask
	for rows.Next() {
		var t domain.PendingTask
		if err := rows.Scan(&t.TaskID, &t.UserID, &t.LevelID, &t.UserPrompt, &t.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan pending task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pending_tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete pending task: %w", err)
	}
	return nil
}

// ClearQueue deletes every pending task and releases the owning sessions
// back to READY, per the admin clear_queue operation.
func (s *Store) ClearQueue(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT user_id, level_id FROM pending_tasks`)
	if err != nil {
		return 0, fmt.Errorf("list pending tasks: %w", err)
	}
	type key struct {
		userID  string
		levelID int
	}
	var owners []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.userID, &k.levelID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	ct, err := tx.Exec(ctx, `DELETE FROM pending_tasks`)
	if err != nil {
		return 0, fmt.Errorf("delete pending tasks: %w", err)
	}

	for _, o := range owners {
		_, err = tx.Exec(ctx, `
			UPDATE sessions SET state = $3, inflight_task_id = '', updated_at = now()
			WHERE user_id = $1 AND level_id = $2`, o.userID, o.levelID, domain.SessionReady)
		if err != nil {
			return 0, fmt.Errorf("release session: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pending_tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
