package scheduler

import (
	"time"
)

// Config controls evaluation intervals and batch sizes.
type Config struct {
	RunInterval         time.Duration
	BatchSize           int
	EvalTimeout         time.Duration
	SweepTimeout        time.Duration
	MetricQueueSize     int
	EnabledJobs         []string
	EscalationThreshold int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:         15 * time.Second,
		BatchSize:           100,
		EvalTimeout:         30 * time.Second,
		SweepTimeout:        30 * time.Second,
		MetricQueueSize:     1024,
		EscalationThreshold: 3,
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
	if c.EvalTimeout <= 0 {
		c.EvalTimeout = defaults.EvalTimeout
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = defaults.SweepTimeout
	}
	if c.MetricQueueSize <= 0 {
		c.MetricQueueSize = defaults.MetricQueueSize
	}
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = defaults.EscalationThreshold
	}
	return c
}
