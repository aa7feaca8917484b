package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/promptchallenge/engine/internal/domain"
)

func TestOrderCandidates_JDECardFirstThenItemIDAscending(t *testing.T) {
	items := []domain.RewardItem{
		{ItemID: "b-alipay", Kind: domain.RewardAlipayCode, Enabled: true, MaxClaims: 10},
		{ItemID: "z-card", Kind: domain.RewardJDECard, Enabled: true, MaxClaims: 1},
		{ItemID: "a-card", Kind: domain.RewardJDECard, Enabled: true, MaxClaims: 1},
		{ItemID: "a-alipay", Kind: domain.RewardAlipayCode, Enabled: true, MaxClaims: 10},
	}

	ordered := OrderCandidates(items)
	ids := make([]string, len(ordered))
	for i, it := range ordered {
		ids[i] = it.ItemID
	}
	assert.Equal(t, []string{"a-card", "z-card", "a-alipay", "b-alipay"}, ids)
}

func TestOrderCandidates_ExcludesDisabledAndExhausted(t *testing.T) {
	items := []domain.RewardItem{
		{ItemID: "disabled", Enabled: false, MaxClaims: 5, ClaimedCount: 0},
		{ItemID: "exhausted", Enabled: true, MaxClaims: 1, ClaimedCount: 1},
		{ItemID: "available", Enabled: true, MaxClaims: 1, ClaimedCount: 0},
	}

	ordered := OrderCandidates(items)
	assert.Len(t, ordered, 1)
	assert.Equal(t, "available", ordered[0].ItemID)
}
