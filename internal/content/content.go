// Package content defines the content-source collaborator: a
// narrow Load() interface the engine depends on, decoupled from the
// concrete JSON/YAML parsing that backs it (parsing itself is a declared
// non-goal of the core engine). internal/config supplies the only
// implementation today; a different content source (a remote config
// service, a database-backed one) is a one-file adapter.
package content

import "github.com/promptchallenge/engine/internal/config"

// Snapshot is the triple Load() returns: the activity, its ordered
// levels, and the reward pools.
type Snapshot struct {
	Activity config.Activity
	Levels   []config.Level
	Rewards  config.Rewards
}

// Source loads a content Snapshot. Each Load produces a fresh, independently
// validated Snapshot; callers swap it in atomically rather than mutating
// one in place.
type Source interface {
	Load() (Snapshot, error)
}

// FileSource is a Source backed by internal/config's YAML loader.
type FileSource struct {
	ConfigDir string
}

// NewFileSource constructs a FileSource rooted at configDir.
func NewFileSource(configDir string) *FileSource {
	return &FileSource{ConfigDir: configDir}
}

// Load reads, merges and validates the three YAML documents under
// ConfigDir via config.Initialize, then projects the result onto Snapshot.
func (f *FileSource) Load() (Snapshot, error) {
	cfg, err := config.Initialize(f.ConfigDir)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Activity: cfg.Activity, Levels: cfg.Levels, Rewards: cfg.Rewards}, nil
}
