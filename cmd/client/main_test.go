package main

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("HAULBOX_SERVER_URL", "https://haul.example.net")
	t.Setenv("HAULBOX_CLIENT_URL", "http://localhost:7938")
	t.Setenv("HAULBOX_AUTH_TOKEN", "test-token")
	if runtime.GOOS == "windows" {
		t.Setenv("HAULBOX_DATA_DIR", "C:\\tmp\\haulbox-test")
	} else {
		t.Setenv("HAULBOX_DATA_DIR", "/tmp/haulbox-test")
	}

	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://haul.example.net", cfg.ServerURL)
	assert.Equal(t, "http://localhost:7938", cfg.ClientURL)
	assert.Equal(t, "test-token", cfg.AuthToken)

	if runtime.GOOS == "windows" {
		assert.Equal(t, "C:\\tmp\\haulbox-test", cfg.DataDir)
	} else {
		assert.Equal(t, "/tmp/haulbox-test", cfg.DataDir)
	}
}

func TestUploadCommand_FlagsAndDefaults(t *testing.T) {
	cmd := newUploadCmd()

	dest := cmd.Flags().Lookup("dest")
	require.NotNil(t, dest)
	require.Equal(t, "D", dest.Shorthand)
	require.Equal(t, "", dest.DefValue)

	ignore := cmd.Flags().Lookup("ignore")
	require.NotNil(t, ignore)
	require.Equal(t, "i", ignore.Shorthand)
}

func TestDaemonCommand_FlagsAndDefaults(t *testing.T) {
	cmd := newDaemonCmd()

	httpAddr := cmd.Flags().Lookup("http-addr")
	require.NotNil(t, httpAddr)
	require.Equal(t, "a", httpAddr.Shorthand)
	require.Equal(t, "localhost:7938", httpAddr.DefValue)

	httpToken := cmd.Flags().Lookup("http-token")
	require.NotNil(t, httpToken)
	require.Equal(t, "t", httpToken.Shorthand)
	require.Equal(t, "", httpToken.DefValue)
}
