package tasks

import "time"

// Config holds configuration for the task queue system.
type Config struct {
	// Workers is the number of concurrent task workers. Default: 2
	Workers int

	// ReleaseAfter is when claimed tasks that never finished are released
	// back to their queue. Default: 3h, longer than the slowest queue timeout.
	ReleaseAfter time.Duration

	// CleanupInterval is how often expired tasks are purged. Default: 1h
	CleanupInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         2,
		ReleaseAfter:    3 * time.Hour,
		CleanupInterval: time.Hour,
	}
}
