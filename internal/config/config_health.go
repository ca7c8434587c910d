package config

import "time"

// HealthConfig configures the health monitor's poll cadence and
// warning/unresponsive thresholds
type HealthConfig struct {
	CheckIntervalSeconds         int `yaml:"check_interval_seconds"`
	WarningThresholdSeconds      int `yaml:"warning_threshold_seconds"`
	UnresponsiveThresholdSeconds int `yaml:"unresponsive_threshold_seconds"`
}

// DefaultHealthConfig mirrors health.DefaultCheckInterval,
// DefaultWarningThreshold and DefaultUnresponsiveThreshold.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckIntervalSeconds:         30,
		WarningThresholdSeconds:      300,
		UnresponsiveThresholdSeconds: 600,
	}
}

// CheckInterval returns the configured poll cadence as a duration.
func (c HealthConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// WarningThreshold returns the configured warning threshold as a duration.
func (c HealthConfig) WarningThreshold() time.Duration {
	return time.Duration(c.WarningThresholdSeconds) * time.Second
}

// UnresponsiveThreshold returns the configured unresponsive threshold as a duration.
func (c HealthConfig) UnresponsiveThreshold() time.Duration {
	return time.Duration(c.UnresponsiveThresholdSeconds) * time.Second
}
