package config

import "os"

// expandEnv expands ${VAR} / $VAR references in raw YAML bytes using the
// standard library before parsing, so secrets (DB DSN, LLM API keys) live in
// the environment or a .env file, never in the checked-in YAML. Missing
// variables expand to empty string; validation catches the resulting gaps.
func expandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), os.Getenv))
}
