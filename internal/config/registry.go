package config

import "sync/atomic"

// Registry holds the currently active Config behind an atomic pointer so
// the admission front, engine, and admin HTTP surface can all read a
// consistent snapshot while a reload swaps in a new one. A bad reload never
// replaces a good config: Reload validates fully before publishing.
type Registry struct {
	configDir string
	current   atomic.Pointer[Config]
}

// NewRegistry constructs a Registry and performs the initial load.
func NewRegistry(configDir string) (*Registry, error) {
	r := &Registry{configDir: configDir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload loads and validates a fresh Config from disk and swaps it in only
// on success, so a bad reload never replaces a good config.
func (r *Registry) Reload() error {
	cfg, err := Initialize(r.configDir)
	if err != nil {
		return err
	}
	r.current.Store(cfg)
	return nil
}

// Get returns the currently active Config. Never nil after NewRegistry
// succeeds.
func (r *Registry) Get() *Config {
	return r.current.Load()
}
