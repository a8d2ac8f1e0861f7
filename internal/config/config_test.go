package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, []string{"opus", "sonnet", "haiku"}, cfg.Catalog.AllowedModels)
	assert.Equal(t, 3, cfg.Routing.MaxAlternatives)
	assert.Equal(t, "normalized", cfg.Parallel.Equivalence)
	assert.Equal(t, 5*time.Minute, cfg.Parallel.AggregateTimeout())
	assert.Equal(t, 2*time.Minute, cfg.Parallel.EstimatedCompletion())
	assert.Equal(t, time.Duration(0), cfg.Invocation.Timeout())
	assert.Equal(t, "anthropic", cfg.Executor.Provider)
	assert.Equal(t, 4, cfg.Executor.MaxConcurrent)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestDefaultsDoNotShareModelSlice(t *testing.T) {
	cfg := Defaults()
	cfg.Catalog.AllowedModels[0] = "changed"
	assert.Equal(t, "opus", DefaultModels[0])
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("CONDUCTOR_TEST_KEY", "sk-test")

	data := `
catalog:
  path: /etc/conductor/catalog.yaml
  watch: true
routing:
  maxAlternatives: 5
parallel:
  equivalence: exact
  aggregateTimeoutSeconds: 30
  voteWeights:
    architect: 2
    critic: 1.5
executor:
  provider: openai
  apiKey: ${CONDUCTOR_TEST_KEY}
  baseUrl: http://localhost:11434/v1
  models:
    sonnet: llama3.1
store:
  driver: memory
gateway:
  port: 9999
  auth:
    mode: password
    password: secret123
logging:
  level: debug
  consoleStyle: json
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/etc/conductor/catalog.yaml", cfg.Catalog.Path)
	assert.True(t, cfg.Catalog.Watch)
	assert.Equal(t, 5, cfg.Routing.MaxAlternatives)
	assert.Equal(t, "exact", cfg.Parallel.Equivalence)
	assert.Equal(t, 30*time.Second, cfg.Parallel.AggregateTimeout())
	assert.Equal(t, 2.0, cfg.Parallel.VoteWeights["architect"])
	assert.Equal(t, "openai", cfg.Executor.Provider)
	assert.Equal(t, "sk-test", cfg.Executor.APIKey)
	assert.Equal(t, "llama3.1", cfg.Executor.Models["sonnet"])
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "password", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset fields still receive defaults.
	assert.Equal(t, 2*time.Minute, cfg.Parallel.EstimatedCompletion())
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("catalog: [unclosed"), 0o600))

	_, err := Load(path)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_GATEWAY_PORT", "12345")
	t.Setenv("CONDUCTOR_LOG_LEVEL", "DEBUG")
	t.Setenv("CONDUCTOR_CATALOG", "/srv/catalog.yaml")
	t.Setenv("CONDUCTOR_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/srv/catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, "openai", cfg.Executor.Provider)
	assert.Equal(t, "sk-openai", cfg.Executor.APIKey)
}

func TestExpandEnvVarsLeavesUnsetVariables(t *testing.T) {
	t.Setenv("CONDUCTOR_SET", "yes")
	assert.Equal(t, "yes-${CONDUCTOR_UNSET_VAR}", expandEnvVars("${CONDUCTOR_SET}-${CONDUCTOR_UNSET_VAR}"))
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.Empty(t, raw)

	SetValueAtPath(raw, []string{"parallel", "equivalence"}, "exact")
	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)
	val, ok := GetValueAtPath(loaded, []string{"parallel", "equivalence"})
	require.True(t, ok)
	assert.Equal(t, "exact", val)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "exact", cfg.Parallel.Equivalence)
}
