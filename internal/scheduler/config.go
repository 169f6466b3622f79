package scheduler

import "time"

// Config controls sweep cadence and retention.
type Config struct {
	RunInterval        time.Duration
	EnabledJobs        []string
	UsageRetentionDays int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        time.Minute,
		UsageRetentionDays: 400,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.UsageRetentionDays <= 0 {
		c.UsageRetentionDays = defaults.UsageRetentionDays
	}
	return c
}
