package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/storage"
)

// GetOrCreateUser is idempotent via ON CONFLICT DO NOTHING followed by a
// read.
func (s *Store) GetOrCreateUser(ctx context.Context, userID, displayName string) (domain.User, error) {
	if userID == "" {
		return domain.User{}, storage.NewValidationError("user_id", "required")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (user_id, display_name) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, displayName)
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}

	var u domain.User
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, display_name, banned, ban_reason, created_at
		FROM users WHERE user_id = $1`, userID)
	if err := row.Scan(&u.UserID, &u.DisplayName, &u.Banned, &u.BanReason, &u.CreatedAt); err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// SetBanned updates a user's ban state and mirrors it into the bans table,
// which exists separately so admin tooling can list ban history.
func (s *Store) SetBanned(ctx context.Context, userID string, banned bool, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `UPDATE users SET banned = $2, ban_reason = $3 WHERE user_id = $1`, userID, banned, reason)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	if banned {
		_, err = tx.Exec(ctx, `
			INSERT INTO bans (user_id, reason) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET reason = EXCLUDED.reason, banned_at = now()`, userID, reason)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM bans WHERE user_id = $1`, userID)
	}
	if err != nil {
		return fmt.Errorf("sync ban row: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) GetSession(ctx context.Context, userID string, levelID int) (domain.Session, error) {
	var sess domain.Session
	var cooldown *time.Time
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, level_id, state, turn_index, cooldown_until, inflight_task_id, updated_at
		FROM sessions WHERE user_id = $1 AND level_id = $2`, userID, levelID)
	if err := row.Scan(&sess.UserID, &sess.LevelID, &sess.State, &sess.TurnIndex, &cooldown, &sess.InflightTaskID, &sess.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	if cooldown != nil {
		sess.CooldownUntil = *cooldown
	}
	return sess, nil
}

func (s *Store) UpsertSession(ctx context.Context, sess domain.Session) error {
	var cooldown interface{}
	if !sess.CooldownUntil.IsZero() {
		cooldown = sess.CooldownUntil
	}
	_, err := s.pool.Exec(ctx, `
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
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *Store) ResetSession(ctx context.Context, userID string, levelID int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1 AND level_id = $2`, userID, levelID)
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

func (s *Store) IsLevelPassed(ctx context.Context, userID string, levelID int) (bool, error) {
	var exists bool
	row := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM level_progress WHERE user_id = $1 AND level_id = $2)`, userID, levelID)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check level progress: %w", err)
	}
	return exists, nil
}

func (s *Store) MarkLevelPassed(ctx context.Context, userID string, levelID, turnsUsed int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO level_progress (user_id, level_id, turns_used) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, level_id) DO NOTHING`, userID, levelID, turnsUsed)
	if err != nil {
		return fmt.Errorf("mark level passed: %w", err)
	}
	return nil
}

func (s *Store) HighestPassedLevel(ctx context.Context, userID string) (int, error) {
	var max *int
	row := s.pool.QueryRow(ctx, `SELECT MAX(level_id) FROM level_progress WHERE user_id = $1`, userID)
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("highest passed level: %w", err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}
