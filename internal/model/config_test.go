package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "himalaya", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("[work]\n"), 0o600))
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_STATE_HOME", dir)

	s, err := LoadSettings(NewViper())
	require.NoError(t, err)

	assert.Equal(t, path, s.ConfigPath)
	assert.Equal(t, "himalaya", s.KeyringService)
	assert.Equal(t, filepath.Join(dir, "himalaya", "state.db"), s.StateDB)
	assert.Equal(t, 30*time.Second, s.TokenTimeout)
	assert.Equal(t, time.Minute, s.CommandTimeout)
	assert.Empty(t, s.Account)
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("HIMALAYA_CONFIG", "/etc/himalaya.toml")
	t.Setenv("HIMALAYA_ACCOUNT", "work")
	t.Setenv("HIMALAYA_TOKEN_TIMEOUT", "5s")
	t.Setenv("HIMALAYA_KEYRING_SERVICE", "mail")

	s, err := LoadSettings(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "/etc/himalaya.toml", s.ConfigPath)
	assert.Equal(t, "work", s.Account)
	assert.Equal(t, 5*time.Second, s.TokenTimeout)
	assert.Equal(t, "mail", s.KeyringService)
}

func TestDefaultConfigPathMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)

	_, err := DefaultConfigPath()
	assert.Error(t, err)
}
