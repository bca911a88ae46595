// Package scheduler runs a pool of workers that lease gaps and hand them to an
// external handler through a connector.
package scheduler

import "time"

// Config defines the worker pool configuration.
type Config struct {
	// Workers is the number of gaps handled concurrently.
	Workers int `yaml:"workers"`
	// Command and Args start the handler; the gap arrives as JSON on stdin.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	// WorkDir is the handler working directory. Empty means the current one.
	WorkDir string `yaml:"work_dir,omitempty"`
	// AllowedCommands is the connector allowlist.
	AllowedCommands []string `yaml:"allowed_commands"`
	// Priority lists gap types, most urgent first.
	Priority []string `yaml:"priority,omitempty"`
	// Verify re-runs indexing before completing a handled gap.
	Verify bool `yaml:"verify"`
	// PollInterval is how long an idle worker waits before leasing again.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the default worker pool configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:      2,
		PollInterval: 5 * time.Second,
	}
}

// workerCount returns the pool size, at least one.
func (c *Config) workerCount() int {
	if c.Workers < 1 {
		return 1
	}
	return c.Workers
}
