package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/storage"
)

// claimRetries bounds the compare-and-set retry loop when racing claimers
// keep winning the selected item.
const claimRetries = 5

// ClaimReward runs the full claim protocol inside one transaction,
// re-running it on serialization/deadlock failures up to the bounded
// retry budget.
func (s *Store) ClaimReward(ctx context.Context, poolID, userID string, levelID int) (storage.ClaimResult, error) {
	var result storage.ClaimResult
	err := withTxRetry(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.claimReward(ctx, poolID, userID, levelID)
		return err
	})
	return result, err
}

func (s *Store) claimReward(ctx context.Context, poolID, userID string, levelID int) (storage.ClaimResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.ClaimResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Step 1: existence check.
	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM reward_claims WHERE user_id = $1 AND level_id = $2)`,
		userID, levelID).Scan(&exists)
	if err != nil {
		return storage.ClaimResult{}, fmt.Errorf("check existing claim: %w", err)
	}
	if exists {
		return storage.ClaimResult{}, storage.ErrAlreadyClaimed
	}

	var itemID, code string
	var kind domain.RewardKind
	claimed := false

	for attempt := 0; attempt < claimRetries && !claimed; attempt++ {
		// Step 2: candidate selection, JD_ECARD first (one-shot inventory
		// exhausted ahead of unlimited-style items), then item_id ascending.
		row := tx.QueryRow(ctx, `
			SELECT item_id, code, kind
			FROM reward_items
			WHERE pool_id = $1 AND enabled = TRUE AND claimed_count < max_claims
			ORDER BY (kind = $2) DESC, item_id ASC
			LIMIT 1`, poolID, string(domain.RewardJDECard))
		if err := row.Scan(&itemID, &code, &kind); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storage.ClaimResult{}, storage.ErrPoolExhausted
			}
			return storage.ClaimResult{}, fmt.Errorf("select candidate item: %w", err)
		}

		// Step 4: conditional update, compare-and-set on claimed_count.
		ct, err := tx.Exec(ctx, `
			UPDATE reward_items SET claimed_count = claimed_count + 1
			WHERE item_id = $1 AND claimed_count < max_claims`, itemID)
		if err != nil {
			return storage.ClaimResult{}, fmt.Errorf("claim item: %w", err)
		}
		claimed = ct.RowsAffected() > 0
	}
	if !claimed {
		return storage.ClaimResult{}, storage.ErrPoolExhausted
	}

	// Step 5: insert claim.
	claimID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO reward_claims (claim_id, user_id, level_id, pool_id, item_id, code_snap, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		claimID, userID, levelID, poolID, itemID, code)
	if err != nil {
		return storage.ClaimResult{}, fmt.Errorf("insert claim: %w", err)
	}

	// Step 6: insert/ignore level progress. turns_used is unknown here;
	// the engine calls MarkLevelPassed separately with the real count,
	// in its own call just before ClaimReward (see internal/engine), so
	// this is a defensive no-op if that already ran.
	_, err = tx.Exec(ctx, `
		INSERT INTO level_progress (user_id, level_id, turns_used) VALUES ($1, $2, 0)
		ON CONFLICT (user_id, level_id) DO NOTHING`, userID, levelID)
	if err != nil {
		return storage.ClaimResult{}, fmt.Errorf("mark level passed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.ClaimResult{}, fmt.Errorf("commit: %w", err)
	}

	return storage.ClaimResult{ItemID: itemID, Code: code, Kind: kind}, nil
}

// ReconcileRewardItems upserts by item_id, preserving claimed_count, and
// disables (never deletes) items absent from specs.
func (s *Store) ReconcileRewardItems(ctx context.Context, specs []storage.RewardItemSpec) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	seen := make([]string, 0, len(specs))
	for _, spec := range specs {
		maxClaims := spec.MaxClaims
		if maxClaims <= 0 {
			maxClaims = 1 << 30 // "unlimited" sentinel
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO reward_items (item_id, pool_id, kind, code, max_claims, claimed_count, enabled)
			VALUES ($1, $2, $3, $4, $5, 0, $6)
			ON CONFLICT (item_id) DO UPDATE SET
				pool_id = EXCLUDED.pool_id,
				kind = EXCLUDED.kind,
				code = EXCLUDED.code,
				max_claims = EXCLUDED.max_claims,
				enabled = EXCLUDED.enabled`,
			spec.ItemID, spec.PoolID, string(spec.Kind), spec.Code, maxClaims, spec.Enabled)
		if err != nil {
			return fmt.Errorf("upsert reward item %s: %w", spec.ItemID, err)
		}
		seen = append(seen, spec.ItemID)
	}

	_, err = tx.Exec(ctx, `UPDATE reward_items SET enabled = FALSE WHERE NOT (item_id = ANY($1))`, seen)
	if err != nil {
		return fmt.Errorf("disable stale reward items: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) TodayClaimCount(ctx context.Context) (int, error) {
	var n int
	today := time.Now()
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reward_claims WHERE claimed_at >= $1`, start).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("today claim count: %w", err)
	}
	return n, nil
}
