package sweeper

import (
	"fmt"
	"time"
)

// Config holds the configuration for the batch window-reset sweeper.
type Config struct {
	// Interval is how often a sweep runs. Daily is sufficient given the
	// 30-day window granularity; shorter intervals only tighten how stale a
	// stored counter can get between reads.
	// Default: 24 hours
	Interval time.Duration

	// BatchSize caps how many expired windows one sweep processes.
	// Default: 500
	BatchSize int32

	// ShutdownTimeout is how long Stop waits for an in-flight sweep to
	// finish before giving up.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Interval:        24 * time.Hour,
		BatchSize:       500,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Interval < time.Minute {
		return fmt.Errorf("interval must be at least 1 minute, got %v", c.Interval)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
