package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single segment", "parallel", []string{"parallel"}, false},
		{"nested", "parallel.voteWeights.critic", []string{"parallel", "voteWeights", "critic"}, false},
		{"empty", "", nil, true},
		{"empty segment", "parallel..equivalence", nil, true},
		{"trailing dot", "routing.", nil, true},
		{"blocked __proto__", "foo.__proto__.bar", nil, true},
		{"blocked constructor", "constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueAtPathRoundTrip(t *testing.T) {
	root := map[string]any{
		"parallel": map[string]any{"equivalence": "normalized"},
		"simple":   "value",
	}

	val, ok := GetValueAtPath(root, []string{"parallel", "equivalence"})
	require.True(t, ok)
	assert.Equal(t, "normalized", val)

	_, ok = GetValueAtPath(root, []string{"simple", "sub"})
	assert.False(t, ok)

	SetValueAtPath(root, []string{"parallel", "voteWeights", "critic"}, 2.0)
	val, ok = GetValueAtPath(root, []string{"parallel", "voteWeights", "critic"})
	require.True(t, ok)
	assert.Equal(t, 2.0, val)

	SetValueAtPath(root, []string{"simple", "nested"}, "x")
	val, _ = GetValueAtPath(root, []string{"simple", "nested"})
	assert.Equal(t, "x", val)

	assert.True(t, UnsetValueAtPath(root, []string{"parallel", "equivalence"}))
	assert.False(t, UnsetValueAtPath(root, []string{"parallel", "equivalence"}))
	assert.False(t, UnsetValueAtPath(root, []string{"missing", "a", "b"}))
	_, ok = GetValueAtPath(root, []string{"parallel", "voteWeights"})
	assert.True(t, ok, "siblings survive unset")
}

func TestResolvePaths(t *testing.T) {
	t.Setenv("CONDUCTOR_HOME", "")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".conductor")
	assert.Equal(t, base, paths.Base)
	assert.Equal(t, filepath.Join(base, "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(base, "catalog.yaml"), paths.Catalog)
	assert.Equal(t, filepath.Join(base, "agents"), paths.Agents)
	assert.Equal(t, filepath.Join(base, "data", "conductor.db"), paths.Database())
}

func TestResolvePathsCustomHome(t *testing.T) {
	t.Setenv("CONDUCTOR_HOME", "/tmp/conductor-test")

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/conductor-test", paths.Base)
	assert.Equal(t, "/tmp/conductor-test/logs", paths.Logs)
}

func TestEnsureDirs(t *testing.T) {
	t.Setenv("CONDUCTOR_HOME", t.TempDir())
	paths, err := ResolvePaths()
	require.NoError(t, err)

	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs())

	for _, dir := range []string{paths.Base, paths.Agents, paths.Logs, paths.Data} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestApplyPaths(t *testing.T) {
	t.Setenv("CONDUCTOR_HOME", t.TempDir())
	paths, err := ResolvePaths()
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())

	cfg := Defaults()
	ApplyPaths(&cfg, paths)
	assert.Empty(t, cfg.Catalog.Path, "missing catalog file is not assumed")
	assert.Empty(t, cfg.Catalog.AgentsDir, "empty agents dir is not assumed")
	assert.Equal(t, paths.Database(), cfg.Store.Path)

	require.NoError(t, os.WriteFile(paths.Catalog, []byte("agents: []\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(paths.Agents, "analyst.md"), []byte("---\nname: analyst\n---\n"), 0o600))

	cfg = Defaults()
	ApplyPaths(&cfg, paths)
	assert.Equal(t, paths.Catalog, cfg.Catalog.Path)
	assert.Equal(t, paths.Agents, cfg.Catalog.AgentsDir)

	cfg = Defaults()
	cfg.Store.Driver = "memory"
	ApplyPaths(&cfg, paths)
	assert.Empty(t, cfg.Store.Path)
}
