// Package reward is the engine-facing facade over the atomic claim
// protocol. The protocol's transactional steps — existence
// check, candidate selection, compare-and-set update, claim insert,
// level-progress upsert — must run inside a single database transaction,
// so they are implemented directly against pgx in
// internal/storage/postgres; this package only narrows Storage down to the
// one method the Game Engine actually calls, re-exports its sentinel
// errors under a reward-specific name, and hosts the candidate-ordering
// rule as a pure, independently testable function.
package reward

import (
	"context"
	"sort"

	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/storage"
)

// Sentinel errors, re-exported from storage so engine code never imports
// the storage package merely to compare a claim outcome.
var (
	ErrAlreadyClaimed = storage.ErrAlreadyClaimed
	ErrPoolExhausted  = storage.ErrPoolExhausted
)

// Result is the outcome of a successful claim.
type Result = storage.ClaimResult

// Claimer is the narrow dependency the Game Engine holds: just the claim
// call, not the whole Storage surface.
type Claimer interface {
	ClaimReward(ctx context.Context, poolID, userID string, levelID int) (Result, error)
}

// New wraps a Storage implementation as a Claimer.
func New(store storage.Storage) Claimer {
	return store
}

// OrderCandidates sorts enabled, unexhausted items the way
// postgres.Store.ClaimReward's SELECT does: JD_ECARD first (to exhaust
// one-shot inventory ahead of renewable-style items), then item_id
// ascending, so the selection is deterministic for tests. Postgres
// implementations must keep the two orderings in lockstep;
// this function exists so the rule can be asserted without a database.
func OrderCandidates(items []domain.RewardItem) []domain.RewardItem {
	candidates := make([]domain.RewardItem, 0, len(items))
	for _, it := range items {
		if it.Enabled && it.ClaimedCount < it.MaxClaims {
			candidates = append(candidates, it)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		iJD := candidates[i].Kind == domain.RewardJDECard
		jJD := candidates[j].Kind == domain.RewardJDECard
		if iJD != jJD {
			return iJD
		}
		return candidates[i].ItemID < candidates[j].ItemID
	})
	return candidates
}
