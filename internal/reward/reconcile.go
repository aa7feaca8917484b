package reward

import (
	"context"

	"github.com/promptchallenge/engine/internal/config"
	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/storage"
)

// SpecsFromConfig flattens the rewards document into the upsert specs
// Storage.ReconcileRewardItems consumes, resolving the "unlimited"
// max_claims sentinel to the zero value Storage treats as unbounded.
func SpecsFromConfig(rewards config.Rewards) ([]storage.RewardItemSpec, error) {
	var specs []storage.RewardItemSpec
	for _, pool := range rewards.RewardPools {
		for _, item := range pool.Items {
			max, unlimited, err := config.ParseMaxClaims(item.MaxClaimsItem)
			if err != nil {
				return nil, err
			}
			if unlimited {
				max = 0
			}
			specs = append(specs, storage.RewardItemSpec{
				ItemID:    item.ItemID,
				PoolID:    pool.PoolID,
				Kind:      domain.RewardKind(item.Kind),
				Code:      item.Code,
				MaxClaims: max,
				Enabled:   pool.Enabled,
			})
		}
	}
	return specs, nil
}

// Reconcile seeds/updates the reward_items table from cfg, preserving
// claimed_count on every upsert and disabling items absent from the new
// document. It runs at boot and again after every successful config
// reload, so newly added items become claimable and removed items stop
// being selected without a restart.
func Reconcile(ctx context.Context, store storage.Storage, cfg *config.Config) error {
	specs, err := SpecsFromConfig(cfg.Rewards)
	if err != nil {
		return err
	}
	return store.ReconcileRewardItems(ctx, specs)
}
