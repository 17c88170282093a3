package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bmiptools.yaml")
	cfg := DefaultConfig()
	cfg.Processing.NumCores = 2
	cfg.Pipeline.Operations = []string{"Destriper", "Decharger"}
	cfg.Stack.Mode = "whole"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDefaultConfigRoundTrip(t *testing.T) {
	for _, name := range []string{"bmiptools.yaml", "bmiptools.toml"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, CreateDefaultConfigFile(path))

		loaded, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), loaded, name)
		assert.Nil(t, loaded.Pipeline.Overrides, name)
		assert.Nil(t, loaded.Stack.Slices, name)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bmiptools.yaml")
	yaml := `
pipeline:
  name: demo
  operations: [Cropper, Standardizer]
  overrides:
    Cropper:
      y_range: [20, 40]
      x_range: [20, null]
stack:
  input: slices
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Pipeline.Name)
	assert.Equal(t, []any{20, 40}, cfg.Pipeline.Overrides["Cropper"]["y_range"])
	assert.Equal(t, []any{20, nil}, cfg.Pipeline.Overrides["Cropper"]["x_range"])
	assert.Equal(t, "uint8", cfg.Stack.DataType)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stack.Mode = "tiles"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Pipeline.ConfigurationFile = "p.json"
	cfg.Pipeline.Overrides = map[string]map[string]any{"Cropper": {}}
	assert.Error(t, cfg.Validate())

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  format: xml\n"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestTOMLConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bmiptools.toml")
	content := `
[processing]
numCores = 3

[pipeline]
name = "demo"
operations = ["Destriper", "Flatter"]

[pipeline.overrides.Flatter]
auto_optimize = false

[stack]
input = "slices"
mode = "whole"
dataType = "float64"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Processing.NumCores)
	assert.Equal(t, []string{"Destriper", "Flatter"}, cfg.Pipeline.Operations)
	assert.Equal(t, false, cfg.Pipeline.Overrides["Flatter"]["auto_optimize"])
	assert.Equal(t, "whole", cfg.Stack.Mode)
	assert.Equal(t, "console", cfg.Logging.Format)

	out := filepath.Join(t.TempDir(), "saved.toml")
	require.NoError(t, SaveConfig(cfg, out))
	again, err := LoadConfig(out)
	require.NoError(t, err)
	assert.Equal(t, cfg.Pipeline.Operations, again.Pipeline.Operations)
	assert.Equal(t, cfg.Stack.Input, again.Stack.Input)
	assert.Equal(t, cfg.Stack.Mode, again.Stack.Mode)
	assert.Equal(t, cfg.Stack.DataType, again.Stack.DataType)
}
