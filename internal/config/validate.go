package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Catalog
	if cfg.Catalog.Watch && cfg.Catalog.Path == "" && cfg.Catalog.AgentsDir == "" {
		add("catalog.watch", "requires catalog.path or catalog.agentsDir")
	}

	// Routing
	if cfg.Routing.MaxAlternatives < 0 {
		add("routing.maxAlternatives", "must be >= 0, got %d", cfg.Routing.MaxAlternatives)
	}

	// Invocation and parallel execution
	if cfg.Invocation.TimeoutSeconds < 0 {
		add("invocation.timeoutSeconds", "must be >= 0, got %d", cfg.Invocation.TimeoutSeconds)
	}
	validEquivalence := []string{"normalized", "exact"}
	if cfg.Parallel.Equivalence != "" && !slices.Contains(validEquivalence, cfg.Parallel.Equivalence) {
		add("parallel.equivalence", "must be one of %v, got %q", validEquivalence, cfg.Parallel.Equivalence)
	}
	if cfg.Parallel.AggregateTimeoutSeconds < 0 {
		add("parallel.aggregateTimeoutSeconds", "must be >= 0, got %d", cfg.Parallel.AggregateTimeoutSeconds)
	}
	for agent, w := range cfg.Parallel.VoteWeights {
		if w <= 0 {
			add("parallel.voteWeights."+agent, "weight must be positive, got %g", w)
		}
	}

	// Executor
	validProviders := []string{"anthropic", "openai", "ollama", "gemini", "claude-cli", "mock"}
	if cfg.Executor.Provider != "" && !slices.Contains(validProviders, cfg.Executor.Provider) {
		add("executor.provider", "must be one of %v, got %q", validProviders, cfg.Executor.Provider)
	}
	if cfg.Executor.MaxConcurrent < 0 {
		add("executor.maxConcurrent", "must be >= 0, got %d", cfg.Executor.MaxConcurrent)
	}
	for _, fb := range cfg.Executor.Fallbacks {
		if !slices.Contains(validProviders, fb) {
			add("executor.fallbacks", "unknown provider %q", fb)
		}
	}

	// Store
	validDrivers := []string{"sqlite", "memory"}
	if cfg.Store.Driver != "" && !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	validAuthModes := []string{"token", "password"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		add("gateway.auth.mode", "must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode)
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}
	if cfg.Gateway.RateLimit.RequestsPerSecond < 0 {
		add("gateway.rateLimit.requestsPerSecond", "must be >= 0, got %g", cfg.Gateway.RateLimit.RequestsPerSecond)
	}

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}
