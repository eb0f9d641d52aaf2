package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "taskweave.json"))
		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.Logging.File)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "taskweave.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"server": {"base_url": "https://pm.example.com", "api_key": "k1", "transport": "websocket"},
			"project": {"id": "proj-7"},
			"sync": {"schedule": "@every 5m"}
		}`), 0600))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, "https://pm.example.com", cfg.Server.BaseURL)
		assert.Equal(t, "k1", cfg.Server.APIKey)
		assert.Equal(t, "websocket", cfg.Server.Transport)
		assert.Equal(t, "proj-7", cfg.Project.ID)
		assert.Equal(t, "@every 5m", cfg.Sync.Schedule)
		// Unset sections keep their defaults.
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "taskweave.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"server": {"api_key": "from-file"}}`), 0600))
		t.Setenv("TASKWEAVE_SERVER_API_KEY", "from-env")

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Server.APIKey)
	})

	t.Run("invalid JSON fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "taskweave.json")
		require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0600))
		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskweave.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Server.BaseURL = "https://pm.example.com"
	cfg.Project.ID = "proj-1"
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://pm.example.com", loaded.Server.BaseURL)
	assert.Equal(t, "proj-1", loaded.Project.ID)
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "/tmp/custom.json", NewLoader("/tmp/custom.json").GetConfigPath())
	assert.Contains(t, NewLoader("").GetConfigPath(), ".taskweave")
}
