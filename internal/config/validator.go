package config

import (
	"fmt"
	"strconv"

	"github.com/promptchallenge/engine/internal/domain"
)

// Validator validates a loaded Config comprehensively, failing fast with a
// field-qualified error — mirrored by Reload() so a bad reload never
// replaces a good running configuration.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates, in dependency order: levels → reward pools →
// cross-references between them.
func (v *Validator) ValidateAll() error {
	if err := v.validateLevels(); err != nil {
		return fmt.Errorf("levels: %w", err)
	}
	if err := v.validateRewardPools(); err != nil {
		return fmt.Errorf("reward pools: %w", err)
	}
	if err := v.validateCrossReferences(); err != nil {
		return fmt.Errorf("cross references: %w", err)
	}
	return nil
}

func (v *Validator) validateLevels() error {
	levels := v.cfg.Levels
	if len(levels) == 0 {
		return fmt.Errorf("no levels configured")
	}
	seen := make(map[int]bool, len(levels))
	for _, l := range levels {
		if l.LevelID <= 0 {
			return fmt.Errorf("level_id must be positive, got %d", l.LevelID)
		}
		if seen[l.LevelID] {
			return fmt.Errorf("duplicate level_id %d", l.LevelID)
		}
		seen[l.LevelID] = true
		if l.Name == "" {
			return fmt.Errorf("level %d: name is required", l.LevelID)
		}
		switch l.Grading.Keyword.MatchPolicy {
		case MatchExactSubstring, MatchCaseInsensitiveSub, MatchRegex:
		default:
			return fmt.Errorf("level %d: invalid match_policy %q", l.LevelID, l.Grading.Keyword.MatchPolicy)
		}
		if l.Grading.Keyword.TargetPhrase == "" {
			return fmt.Errorf("level %d: target_phrase is required", l.LevelID)
		}
		if l.Limits.MaxTurns <= 0 {
			return fmt.Errorf("level %d: max_turns must be positive", l.LevelID)
		}
		if l.RewardPoolID == "" {
			return fmt.Errorf("level %d: reward_pool_id is required", l.LevelID)
		}
	}
	// Level IDs must be contiguous starting at 1.
	for i := 1; i <= len(levels); i++ {
		if !seen[i] {
			return fmt.Errorf("level ids must be contiguous 1..%d; missing %d", len(levels), i)
		}
	}
	return nil
}

func (v *Validator) validateRewardPools() error {
	for _, p := range v.cfg.Rewards.RewardPools {
		if p.PoolID == "" {
			return fmt.Errorf("reward pool has empty pool_id")
		}
		seenItem := make(map[string]bool)
		for _, item := range p.Items {
			if item.ItemID == "" {
				return fmt.Errorf("pool %s: item has empty item_id", p.PoolID)
			}
			if seenItem[item.ItemID] {
				return fmt.Errorf("pool %s: duplicate item_id %s", p.PoolID, item.ItemID)
			}
			seenItem[item.ItemID] = true

			switch item.Kind {
			case string(domain.RewardAlipayCode):
				max, unlimited, err := ParseMaxClaims(item.MaxClaimsItem)
				if err != nil {
					return fmt.Errorf("pool %s item %s: %w", p.PoolID, item.ItemID, err)
				}
				if !unlimited && max < 1 {
					return fmt.Errorf("pool %s item %s: ALIPAY_CODE max_claims_per_item must be >= 1", p.PoolID, item.ItemID)
				}
			case string(domain.RewardJDECard):
				max, unlimited, err := ParseMaxClaims(item.MaxClaimsItem)
				if err != nil {
					return fmt.Errorf("pool %s item %s: %w", p.PoolID, item.ItemID, err)
				}
				if unlimited || max != 1 {
					return fmt.Errorf("pool %s item %s: JD_ECARD max_claims_per_item must equal 1", p.PoolID, item.ItemID)
				}
			default:
				return fmt.Errorf("pool %s item %s: unknown kind %q", p.PoolID, item.ItemID, item.Kind)
			}
		}
	}
	return nil
}

// ParseMaxClaims parses the max_claims_per_item field, which may be the
// literal string "unlimited". Exported so callers outside this
// package (e.g. internal/reward.SpecsFromConfig, used by reward-item reconciliation at boot)
// can resolve the same field without duplicating the "unlimited" sentinel
// rule.
func ParseMaxClaims(raw string) (max int, unlimited bool, err error) {
	if raw == "unlimited" {
		return 0, true, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid max_claims_per_item %q: %w", raw, err)
	}
	return n, false, nil
}

func (v *Validator) validateCrossReferences() error {
	for _, l := range v.cfg.Levels {
		if v.cfg.PoolByID(l.RewardPoolID) == nil {
			return fmt.Errorf("level %d: reward_pool_id %q does not exist", l.LevelID, l.RewardPoolID)
		}
	}
	return nil
}
