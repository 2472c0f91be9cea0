package config

import "sync/atomic"

var cfg atomic.Value

// Init seeds the global config with defaults. Call once at process start.
func Init() {
	c := defaultConfig()
	cfg.Store(&c)
}

// Load returns the current config. Treat the result as read-only.
func Load() *Config {
	v, ok := cfg.Load().(*Config)
	if !ok {
		Init()
		return Load()
	}
	return v
}

// Update applies mut to a copy of the current config and swaps it in.
func Update(mut func(*Config)) *Config {
	curr := Load()
	next := *curr
	mut(&next)
	cfg.Store(&next)
	return &next
}

// Swap replaces the global config outright.
func Swap(next Config) *Config {
	cfg.Store(&next)
	return &next
}
