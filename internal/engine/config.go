package engine

import (
	"time"

	"github.com/specialistvlad/actiongrid/internal/correction"
	"github.com/specialistvlad/actiongrid/internal/scheduler"
)

// Config holds the engine limits applied to every Run.
type Config struct {
	Workers            int           `yaml:"workers" validate:"gte=1"`
	DefaultMaxAttempts int           `yaml:"default_max_attempts" validate:"gte=1"`
	DefaultNodeTimeout time.Duration `yaml:"default_node_timeout" validate:"gte=0"`
	// RunTimeout bounds a whole Run. Zero means no limit.
	RunTimeout time.Duration `yaml:"run_timeout" validate:"gte=0"`

	CorrectionTimeout        time.Duration `yaml:"correction_timeout" validate:"gte=0"`
	CorrectionMaxTries       int           `yaml:"correction_max_tries" validate:"gte=1"`
	CorrectionInitialBackoff time.Duration `yaml:"correction_initial_backoff" validate:"gte=0"`
	CorrectionMaxBackoff     time.Duration `yaml:"correction_max_backoff" validate:"gte=0"`
	// RetryDelay is waited before a retried or patched node is dispatched again.
	RetryDelay time.Duration `yaml:"retry_delay" validate:"gte=0"`

	MaxMutations        int           `yaml:"max_mutations" validate:"gte=0"`
	MaxReplacementNodes int           `yaml:"max_replacement_nodes" validate:"gte=0"`
	DrainTimeout        time.Duration `yaml:"drain_timeout" validate:"gte=0"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Workers:                  10,
		DefaultMaxAttempts:       3,
		DefaultNodeTimeout:       30 * time.Second,
		CorrectionTimeout:        30 * time.Second,
		CorrectionMaxTries:       3,
		CorrectionInitialBackoff: 200 * time.Millisecond,
		CorrectionMaxBackoff:     2 * time.Second,
		RetryDelay:               time.Second,
		MaxMutations:             8,
		MaxReplacementNodes:      8,
		DrainTimeout:             5 * time.Second,
	}
}

func (c Config) correction() correction.Config {
	return correction.Config{
		Timeout:        c.CorrectionTimeout,
		MaxTries:       c.CorrectionMaxTries,
		InitialBackoff: c.CorrectionInitialBackoff,
		MaxBackoff:     c.CorrectionMaxBackoff,
		RetryDelay:     c.RetryDelay,
	}
}

func (c Config) scheduler() scheduler.Config {
	return scheduler.Config{
		DefaultMaxAttempts:  c.DefaultMaxAttempts,
		MaxMutations:        c.MaxMutations,
		MaxReplacementNodes: c.MaxReplacementNodes,
		DrainTimeout:        c.DrainTimeout,
	}
}
