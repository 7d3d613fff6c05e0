package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:8888", cfg.Server.Addr())
	assert.Equal(t, 3, cfg.Game.MinPlayers)
	assert.Equal(t, 8, cfg.Game.MaxPlayers)
	assert.Equal(t, 10, cfg.Game.MaxRounds)
	assert.Equal(t, 100, cfg.Game.TreasureAmount)
	assert.Equal(t, 60, cfg.Game.RoundTimeoutSeconds)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pirates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
game:
  max_rounds: 3
  treasure_amount: 500
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Game.MaxRounds)
	assert.Equal(t, 500, cfg.Game.TreasureAmount)
	// Untouched keys keep their defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 3, cfg.Game.MinPlayers)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pirates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o644))

	t.Setenv("PIRATES_SERVER__PORT", "7777")
	t.Setenv("PIRATES_GAME__MIN_PLAYERS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Game.MinPlayers)
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"min players below two", func(c *Config) { c.Game.MinPlayers = 1 }},
		{"max below min", func(c *Config) { c.Game.MaxPlayers = 2 }},
		{"zero rounds", func(c *Config) { c.Game.MaxRounds = 0 }},
		{"zero treasure", func(c *Config) { c.Game.TreasureAmount = 0 }},
		{"negative timeout", func(c *Config) { c.Game.RoundTimeoutSeconds = -1 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pirates.yaml")
	require.NoError(t, WriteDefault(path))

	// The generated file loads back cleanly.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)

	// Refuses to clobber.
	assert.Error(t, WriteDefault(path))
}
