// Package storage defines the persistence contract for the prompt-challenge
// engine. Storage exclusively owns every persisted row; the engine, queue
// and admission front hold only transient copies.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/promptchallenge/engine/internal/domain"
)

// Sentinel errors returned by Storage implementations. Callers use
// errors.Is, never string comparison.
var (
	ErrNotFound       = errors.New("storage: entity not found")
	ErrAlreadyExists  = errors.New("storage: entity already exists")
	ErrQueueFull      = errors.New("storage: queue is at capacity")
	ErrAlreadyClaimed = errors.New("storage: reward already claimed for this level")
	ErrPoolExhausted  = errors.New("storage: reward pool has no claimable inventory")
)

// ValidationError reports a field-scoped input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ClaimResult is the outcome of a successful ClaimReward call.
type ClaimResult struct {
	ItemID string
	Code   string
	Kind   domain.RewardKind
}

// RewardItemSpec is what configuration supplies when seeding/reconciling the
// reward_items table on reload: upsert by item_id, claimed_count
// preserved.
type RewardItemSpec struct {
	ItemID    string
	PoolID    string
	Kind      domain.RewardKind
	Code      string
	MaxClaims int // 0 means unlimited
	Enabled   bool
}

// Storage is the full persistence contract. Every mutating call
// either commits in full or has no visible effect; read-only calls must not
// block writers.
type Storage interface {
	// GetOrCreateUser is idempotent: a second call with the same user_id
	// returns the existing row unchanged.
	GetOrCreateUser(ctx context.Context, userID, displayName string) (domain.User, error)
	SetBanned(ctx context.Context, userID string, banned bool, reason string) error

	// GetSession returns ErrNotFound when no session exists for the pair.
	GetSession(ctx context.Context, userID string, levelID int) (domain.Session, error)
	// UpsertSession replaces the row by primary key (user_id, level_id).
	// Callers are responsible for the read-modify-write discipline of §5.
	UpsertSession(ctx context.Context, s domain.Session) error
	// ResetSession deletes the (user, level) session, used by the admin
	// reset operation. It does not touch LevelProgress or reward claims.
	ResetSession(ctx context.Context, userID string, levelID int) error

	IsLevelPassed(ctx context.Context, userID string, levelID int) (bool, error)
	// MarkLevelPassed is idempotent: a duplicate insert is a no-op.
	MarkLevelPassed(ctx context.Context, userID string, levelID, turnsUsed int) error
	// HighestPassedLevel returns 0 if the user has passed no level.
	HighestPassedLevel(ctx context.Context, userID string) (int, error)

	RecordAttempt(ctx context.Context, a domain.Attempt) error
	AppendLogEvent(ctx context.Context, e domain.LogEvent) error
	ExportLogEvents(ctx context.Context, day time.Time) ([]domain.LogEvent, error)

	// EnqueueTask writes the PendingTask row and flips sess (already set to
	// SessionInflight with InflightTaskID == t.TaskID by the caller) to
	// INFLIGHT in the same transaction — the anti-double-submit barrier.
	// Returns ErrQueueFull without side effects when the
	// queue is already at queue_max_length.
	EnqueueTask(ctx context.Context, t domain.PendingTask, sess domain.Session, maxLen int) error
	ListPendingTasksOrdered(ctx context.Context) ([]domain.PendingTask, error)
	DeleteTask(ctx context.Context, taskID string) error
	// ClearQueue deletes every PendingTask row and releases the associated
	// sessions back to READY, returning the
	// count of tasks cleared.
	ClearQueue(ctx context.Context) (int, error)
	QueueDepth(ctx context.Context) (int, error)

	// ClaimReward runs the full claim protocol inside one
	// transaction: existence check, candidate selection, conditional
	// update with bounded retry, claim insert, level-progress upsert.
	ClaimReward(ctx context.Context, poolID, userID string, levelID int) (ClaimResult, error)
	// ReconcileRewardItems upserts by item_id, preserving claimed_count,
	// and disables (never deletes) items absent from specs.
	ReconcileRewardItems(ctx context.Context, specs []RewardItemSpec) error
	TodayClaimCount(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Close()
}
