// Package migration holds the process-wide preview migration
// configuration: whether the external preview path is enabled, how much
// traffic it receives, and whether degraded fallback is allowed.
package migration

// Config is the migration configuration read by every routing decision.
// It is always passed by value; the authoritative copy lives in a Store.
type Config struct {
	ExternalPreviewEnabled bool `json:"external_preview_enabled"`
	RolloutPercentage      int  `json:"rollout_percentage"`
	PerformanceThresholdMs int  `json:"performance_threshold_ms"`
	FallbackEnabled        bool `json:"fallback_enabled"`
}

// Normalize clamps fields into their valid ranges.
func (c Config) Normalize() Config {
	if c.RolloutPercentage < 0 {
		c.RolloutPercentage = 0
	}
	if c.RolloutPercentage > 100 {
		c.RolloutPercentage = 100
	}
	if c.PerformanceThresholdMs < 0 {
		c.PerformanceThresholdMs = 0
	}
	return c
}

// DefaultConfig is the safe starting state: external preview off, full
// fallback on.
func DefaultConfig() Config {
	return Config{
		ExternalPreviewEnabled: false,
		RolloutPercentage:      0,
		PerformanceThresholdMs: 3000,
		FallbackEnabled:        true,
	}
}
