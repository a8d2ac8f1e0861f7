package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultModels is the allowed model set when none is configured.
var DefaultModels = []string{"opus", "sonnet", "haiku"}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// AggregateTimeout returns the bounded wait used by AggregateParallelResults.
func (c ParallelConfig) AggregateTimeout() time.Duration {
	return time.Duration(c.AggregateTimeoutSeconds) * time.Second
}

// EstimatedCompletion returns the heuristic duration of a parallel execution.
func (c ParallelConfig) EstimatedCompletion() time.Duration {
	return time.Duration(c.EstimatedCompletionSeconds) * time.Second
}

// EscalateTimeout returns the bounded wait for a conflict handler.
func (c ParallelConfig) EscalateTimeout() time.Duration {
	return time.Duration(c.EscalateTimeoutSeconds) * time.Second
}

// Timeout returns the executor deadline, or zero when disabled.
func (c InvocationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
