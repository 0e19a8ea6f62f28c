package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		tmpDir := t.TempDir()
		loader := NewLoader(filepath.Join(tmpDir, "nexus.json"))

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 8090, cfg.Gateway.Port)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.Logging.File)
	})

	t.Run("loads values from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nexus.json")

		content := `{
			"data_dir": "` + tmpDir + `",
			"gateway": {"port": 9999, "shared_secret": "topsecretsharedvalue"},
			"hooks": {"timeout_seconds": 10},
			"providers": [
				{"name": "main", "provider": "openai", "api_key": "sk-test1234567890", "text_model": "gpt-4o-mini"}
			]
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, 9999, cfg.Gateway.Port)
		assert.Equal(t, "topsecretsharedvalue", cfg.Gateway.SharedSecret)
		assert.Equal(t, 10, cfg.Hooks.TimeoutSeconds)
		require.Len(t, cfg.Providers, 1)
		assert.Equal(t, "gpt-4o-mini", cfg.Providers[0].TextModel)

		// Unset fields keep defaults.
		assert.Equal(t, 310000, cfg.Vault.PBKDF2Iterations)
		assert.Equal(t, filepath.Join(tmpDir, "nexus.log"), cfg.Logging.File)
	})

	t.Run("malformed file errors", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nexus.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0644))

		_, err := Load(configPath)
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sub", "nexus.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Gateway.Port = 7000

	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, loaded.Gateway.Port)
	assert.Equal(t, tmpDir, loaded.DataDir)
}

func TestGetConfigPath(t *testing.T) {
	loader := NewLoader("/tmp/custom.json")
	assert.Equal(t, "/tmp/custom.json", loader.GetConfigPath())

	loader = NewLoader("")
	assert.Contains(t, loader.GetConfigPath(), ".nexus")
}
