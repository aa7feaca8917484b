package reward

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptchallenge/engine/internal/config"
	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/storage/memstore"
)

func rewardsDoc() config.Rewards {
	return config.Rewards{
		RewardPools: []config.RewardPool{
			{
				PoolID:  "pool-1",
				Enabled: true,
				Items: []config.RewardItemConfig{
					{ItemID: "jd-1", Kind: "JD_ECARD", Code: "JD-CODE", MaxClaimsItem: "1"},
					{ItemID: "ali-1", Kind: "ALIPAY_CODE", Code: "ALI-CODE", MaxClaimsItem: "unlimited"},
				},
			},
		},
	}
}

func TestSpecsFromConfig(t *testing.T) {
	specs, err := SpecsFromConfig(rewardsDoc())
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "jd-1", specs[0].ItemID)
	assert.Equal(t, "pool-1", specs[0].PoolID)
	assert.Equal(t, domain.RewardJDECard, specs[0].Kind)
	assert.Equal(t, 1, specs[0].MaxClaims)
	assert.True(t, specs[0].Enabled)

	// "unlimited" resolves to the zero sentinel Storage treats as unbounded.
	assert.Equal(t, 0, specs[1].MaxClaims)
}

func TestSpecsFromConfigRejectsBadMaxClaims(t *testing.T) {
	doc := rewardsDoc()
	doc.RewardPools[0].Items[0].MaxClaimsItem = "lots"
	_, err := SpecsFromConfig(doc)
	require.Error(t, err)
}

func TestReconcileSeedsStore(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	cfg := &config.Config{Rewards: rewardsDoc()}

	require.NoError(t, Reconcile(ctx, store, cfg))

	result, err := store.ClaimReward(ctx, "pool-1", "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "jd-1", result.ItemID)
	assert.Equal(t, "JD-CODE", result.Code)
}

func TestReconcileDisablesDroppedItems(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	require.NoError(t, Reconcile(ctx, store, &config.Config{Rewards: rewardsDoc()}))

	// A second reconcile without jd-1 disables it; the next claim lands on
	// the surviving item.
	doc := rewardsDoc()
	doc.RewardPools[0].Items = doc.RewardPools[0].Items[1:]
	require.NoError(t, Reconcile(ctx, store, &config.Config{Rewards: doc}))

	result, err := store.ClaimReward(ctx, "pool-1", "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "ali-1", result.ItemID)
}
