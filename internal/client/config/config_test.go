package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := &Config{
		DataDir:   "/tmp/hauldata",
		ServerURL: "http://server.example:8080",
		ClientURL: "http://localhost:7938",
		AuthToken: "secret",
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadClientConfig(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.DataDir, loaded.DataDir)
	assert.Equal(t, cfg.ServerURL, loaded.ServerURL)
	assert.Equal(t, cfg.ClientURL, loaded.ClientURL)
	assert.Equal(t, cfg.AuthToken, loaded.AuthToken)
	assert.Equal(t, path, loaded.Path)
}

func TestConfigLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	loaded, err := LoadClientConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultDataDir, loaded.DataDir)
	assert.Equal(t, DefaultServerURL, loaded.ServerURL)
	assert.Equal(t, DefaultClientURL, loaded.ClientURL)
	assert.Empty(t, loaded.AuthToken)
}

func TestConfigLoadMissingFile(t *testing.T) {
	_, err := LoadClientConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/x", ServerURL: "http://localhost:8080"}
	assert.NoError(t, cfg.Validate())

	assert.Error(t, (&Config{ServerURL: "http://localhost:8080"}).Validate())
	assert.Error(t, (&Config{DataDir: "/tmp/x"}).Validate())
}
