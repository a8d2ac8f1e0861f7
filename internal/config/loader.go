package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields lets credentials and paths be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Executor.APIKey = expandEnvVars(cfg.Executor.APIKey)
	cfg.Executor.BaseURL = expandEnvVars(cfg.Executor.BaseURL)
	cfg.Catalog.Path = expandEnvVars(cfg.Catalog.Path)
	cfg.Catalog.AgentsDir = expandEnvVars(cfg.Catalog.AgentsDir)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if len(cfg.Catalog.AllowedModels) == 0 {
		cfg.Catalog.AllowedModels = append([]string(nil), DefaultModels...)
	}
	if cfg.Routing.MaxAlternatives == 0 {
		cfg.Routing.MaxAlternatives = 3
	}
	if cfg.Parallel.Equivalence == "" {
		cfg.Parallel.Equivalence = "normalized"
	}
	if cfg.Parallel.AggregateTimeoutSeconds == 0 {
		cfg.Parallel.AggregateTimeoutSeconds = 300
	}
	if cfg.Parallel.EstimatedCompletionSeconds == 0 {
		cfg.Parallel.EstimatedCompletionSeconds = 120
	}
	if cfg.Parallel.EscalateTimeoutSeconds == 0 {
		cfg.Parallel.EscalateTimeoutSeconds = 300
	}
	if cfg.Executor.Provider == "" {
		cfg.Executor.Provider = "anthropic"
	}
	if cfg.Executor.MaxConcurrent == 0 {
		cfg.Executor.MaxConcurrent = 4
	}
	if cfg.Executor.MaxTokens == 0 {
		cfg.Executor.MaxTokens = 8192
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18790
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = "token"
	}
	if cfg.Gateway.RateLimit.RequestsPerSecond == 0 {
		cfg.Gateway.RateLimit.RequestsPerSecond = 20
	}
	if cfg.Gateway.RateLimit.Burst == 0 {
		cfg.Gateway.RateLimit.Burst = 40
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// applyEnvOverrides reads CONDUCTOR_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONDUCTOR_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("CONDUCTOR_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("CONDUCTOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CONDUCTOR_CATALOG"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("CONDUCTOR_PROVIDER"); v != "" {
		cfg.Executor.Provider = v
	}
	if v := os.Getenv("CONDUCTOR_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if cfg.Executor.APIKey == "" {
		switch cfg.Executor.Provider {
		case "anthropic":
			cfg.Executor.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.Executor.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			cfg.Executor.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}
