// Package config loads and validates the three YAML documents that drive the
// engine: the activity, its ordered levels, and the reward pools. Documents
// merge onto compiled-in defaults and are validated before use.
package config

import "time"

// MatchPolicy is the keyword-stage matching strategy for a level.
type MatchPolicy string

// Match policies.
const (
	MatchExactSubstring      MatchPolicy = "exact_substring"
	MatchCaseInsensitiveSub  MatchPolicy = "case_insensitive_substring"
	MatchRegex               MatchPolicy = "regex"
)

// GlobalLimits caps admission-time and runtime concurrency.
type GlobalLimits struct {
	MaxInflightPerUser int `yaml:"max_inflight_per_user"`
	QueueMaxLength     int `yaml:"queue_max_length"`
	WorkerConcurrency  int `yaml:"worker_concurrency"`
}

// LLMConfig describes the LLM collaborator's connection parameters.
type LLMConfig struct {
	Model                  string        `yaml:"model"`
	TimeoutSeconds         int           `yaml:"timeout_seconds"`
	DefaultMaxOutputTokens int           `yaml:"default_max_output_tokens"`
	Timeout                time.Duration `yaml:"-"`
}

// ChannelConfig names the concrete chat transport in use. The transport
// itself is injected at bootstrap; this only records which one to wire up.
type ChannelConfig struct {
	Name string `yaml:"name"`
}

// Activity is the top-level activity document.
type Activity struct {
	ActivityID    string        `yaml:"activity_id"`
	Enabled       bool          `yaml:"enabled"`
	StartAt       time.Time     `yaml:"start_at"`
	EndAt         time.Time     `yaml:"end_at"`
	Channel       ChannelConfig `yaml:"channel"`
	GlobalLimits  GlobalLimits  `yaml:"global_limits"`
	LLM           LLMConfig     `yaml:"llm"`
}

// Window reports whether t falls within the activity's configured start/end.
// A zero EndAt means the activity has no end date.
func (a Activity) Window(t time.Time) bool {
	if t.Before(a.StartAt) {
		return false
	}
	if !a.EndAt.IsZero() && t.After(a.EndAt) {
		return false
	}
	return true
}

// PromptConfig is a level's system/intro copy.
type PromptConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	IntroMessage string `yaml:"intro_message"`
}

// LimitsConfig bounds one level's inputs, turns, cooldown and output size.
type LimitsConfig struct {
	MaxInputChars            int `yaml:"max_input_chars"`
	MaxTurns                 int `yaml:"max_turns"`
	CooldownSecondsAfterFail int `yaml:"cooldown_seconds_after_fail"`
	MaxOutputTokens          int `yaml:"max_output_tokens"`

	// MaxLineCount and MaxRepeatRun implement the admission-time
	// character-class policy (line count, repeat-run limits).
	MaxLineCount int `yaml:"max_line_count"`
	MaxRepeatRun int `yaml:"max_repeat_run"`
}

// KeywordConfig is the level's keyword-stage configuration.
type KeywordConfig struct {
	TargetPhrase string      `yaml:"target_phrase"`
	MatchPolicy  MatchPolicy `yaml:"match_policy"`
}

// JudgeConfig is the level's judge-stage configuration.
type JudgeConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Policy                string `yaml:"policy"`
	MalformedCountsAsFail bool   `yaml:"malformed_counts_as_fail"`
}

// GradingConfig composes keyword and judge stage configuration.
type GradingConfig struct {
	Keyword KeywordConfig `yaml:"keyword"`
	Judge   JudgeConfig   `yaml:"judge"`
}

// Level is one ordered challenge.
type Level struct {
	LevelID      int           `yaml:"level_id"`
	Name         string        `yaml:"name"`
	Enabled      bool          `yaml:"enabled"`
	Prompt       PromptConfig  `yaml:"prompt"`
	Limits       LimitsConfig  `yaml:"limits"`
	Grading      GradingConfig `yaml:"grading"`
	RewardPoolID string        `yaml:"reward_pool_id"`
}

// RewardItemConfig is one configured reward item within a pool.
type RewardItemConfig struct {
	ItemID        string           `yaml:"item_id"`
	Kind          string           `yaml:"kind"`
	Code          string           `yaml:"code"`
	MaxClaimsItem string           `yaml:"max_claims_per_item"` // string: allows the "unlimited" sentinel
}

// RewardPool is one pool of interchangeable reward items.
type RewardPool struct {
	PoolID             string             `yaml:"pool_id"`
	Enabled            bool               `yaml:"enabled"`
	SendMessageTemplate string            `yaml:"send_message_template"`
	Items              []RewardItemConfig `yaml:"items"`
}

// Rewards is the top-level rewards document.
type Rewards struct {
	RewardPools []RewardPool `yaml:"reward_pools"`
}

// Config is the fully loaded, validated, merged configuration.
type Config struct {
	Activity Activity
	Levels   []Level
	Rewards  Rewards
}

// LevelByID finds a level by ID, or nil.
func (c *Config) LevelByID(id int) *Level {
	for i := range c.Levels {
		if c.Levels[i].LevelID == id {
			return &c.Levels[i]
		}
	}
	return nil
}

// PoolByID finds a reward pool by ID, or nil.
func (c *Config) PoolByID(id string) *RewardPool {
	for i := range c.Rewards.RewardPools {
		if c.Rewards.RewardPools[i].PoolID == id {
			return &c.Rewards.RewardPools[i]
		}
	}
	return nil
}

// Stats summarizes the loaded configuration, mirrored on the admin stats
// and reload endpoints.
type Stats struct {
	Levels      int
	EnabledLevels int
	RewardPools int
	RewardItems int
}

// Stats computes summary counters over the loaded config.
func (c *Config) Stats() Stats {
	s := Stats{Levels: len(c.Levels), RewardPools: len(c.Rewards.RewardPools)}
	for _, l := range c.Levels {
		if l.Enabled {
			s.EnabledLevels++
		}
	}
	for _, p := range c.Rewards.RewardPools {
		s.RewardItems += len(p.Items)
	}
	return s
}
