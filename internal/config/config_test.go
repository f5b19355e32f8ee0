package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_HasSaneDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "inventory.yaml", cfg.Inventory.Path)
	assert.Equal(t, "env", cfg.Secrets.Kind)
	assert.Equal(t, 50, cfg.Fanout.Forks)
	assert.False(t, cfg.Fanout.FailFast)
	assert.Equal(t, 5*time.Second, cfg.Fanout.CancelGraceS)
	assert.Equal(t, 3, cfg.Gate.MaxRetries)
	assert.True(t, cfg.Observability.Metrics.Enabled)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Inventory.Path, cfg.Inventory.Path)
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ftl2.toml")
	doc := `
[inventory]
path = "custom-inventory.yaml"

[fanout]
fail_fast = true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Path and FailFast carry no envDefault tag, so env.Parse leaves a
	// TOML-supplied value alone.
	assert.Equal(t, "custom-inventory.yaml", cfg.Inventory.Path)
	assert.True(t, cfg.Fanout.FailFast)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ftl2.toml")
	doc := `
[inventory]
path = "file-inventory.yaml"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	t.Setenv("FTL2_INVENTORY_PATH", "env-inventory.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-inventory.yaml", cfg.Inventory.Path)
}
