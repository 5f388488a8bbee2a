package incident

import "sync/atomic"

// ConfigProvider yields the AlertConfig snapshot for one evaluation.
type ConfigProvider interface {
	AlertConfig() AlertConfig
}

// StaticConfig is a fixed ConfigProvider.
type StaticConfig AlertConfig

// AlertConfig implements ConfigProvider.
func (c StaticConfig) AlertConfig() AlertConfig { return AlertConfig(c) }

// ReloadableConfig is a ConfigProvider whose value can be swapped while
// evaluations are running. Each evaluation keeps the snapshot it loaded.
type ReloadableConfig struct {
	v atomic.Pointer[AlertConfig]
}

// NewReloadableConfig creates a provider holding cfg.
func NewReloadableConfig(cfg AlertConfig) *ReloadableConfig {
	r := &ReloadableConfig{}
	r.Store(cfg)
	return r
}

// AlertConfig implements ConfigProvider.
func (r *ReloadableConfig) AlertConfig() AlertConfig {
	if p := r.v.Load(); p != nil {
		return *p
	}
	return AlertConfig{}
}

// Store replaces the current config.
func (r *ReloadableConfig) Store(cfg AlertConfig) {
	c := cfg
	r.v.Store(&c)
}
