package scheduler

import (
	"time"
)

// Config controls sweep intervals and batch sizes.
type Config struct {
	RunInterval    time.Duration
	BatchSize      int
	JobTimeout     time.Duration
	LockTTL        time.Duration
	ExpiringWindow time.Duration
	EnabledJobs    []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		BatchSize:      100,
		JobTimeout:     30 * time.Second,
		LockTTL:        2 * time.Minute,
		ExpiringWindow: 30 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.ExpiringWindow <= 0 {
		c.ExpiringWindow = defaults.ExpiringWindow
	}
	return c
}
