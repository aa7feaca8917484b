package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration from configDir. This
// is the primary entry point used by cmd/promptchallenge and by admin
// reload.
//
// Steps:
//  1. Read activity.yaml / levels.yaml / rewards.yaml
//  2. Expand environment variables
//  3. Parse YAML
//  4. Merge onto compiled-in defaults (mergo, non-zero-wins)
//  5. Resolve derived fields (e.g. LLM timeout duration)
//  6. Validate
func Initialize(configDir string) (*Config, error) {
	log := slog.With("component", "config", "config_dir", configDir)

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized",
		"levels", stats.Levels,
		"enabled_levels", stats.EnabledLevels,
		"reward_pools", stats.RewardPools,
		"reward_items", stats.RewardItems)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	activity := defaultActivity()
	if err := loadYAML(filepath.Join(configDir, "activity.yaml"), &activity); err != nil {
		return nil, err
	}
	resolveDurations(&activity)

	var levelsDoc struct {
		Levels []Level `yaml:"levels"`
	}
	if err := loadYAML(filepath.Join(configDir, "levels.yaml"), &levelsDoc); err != nil {
		return nil, err
	}
	for i := range levelsDoc.Levels {
		merged := defaultLimits()
		if err := mergo.Merge(&merged, levelsDoc.Levels[i].Limits, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge level %d limits: %w", levelsDoc.Levels[i].LevelID, err)
		}
		levelsDoc.Levels[i].Limits = merged
	}

	var rewards Rewards
	if err := loadYAML(filepath.Join(configDir, "rewards.yaml"), &rewards); err != nil {
		return nil, err
	}

	return &Config{Activity: activity, Levels: levelsDoc.Levels, Rewards: rewards}, nil
}

// loadYAML reads path, expands env vars, and merges the result onto dst
// (which may already hold defaults).
func loadYAML(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing document is valid for levels/rewards when an
			// activity is freshly scaffolded; Initialize's validator
			// will reject an empty level list if that's ever wrong.
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	data = expandEnv(data)
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
