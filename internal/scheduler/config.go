package scheduler

import (
	"time"
)

// Config controls job timeouts and which jobs this instance runs.
type Config struct {
	JobTimeout  time.Duration
	LockTTL     time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		JobTimeout: 30 * time.Minute,
		LockTTL:    35 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout + 5*time.Minute
	}
	return c
}
