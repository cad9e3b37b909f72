package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "soulmesh.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[http]
addr = ":9000"

[lifecycle]
idle_timeout = "90s"
integrity_floor = 0.5
quarantine_floor = 0.2

[record]
capacity = 50
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 90*time.Second, cfg.Lifecycle.IdleTimeout.Std())
	assert.Equal(t, 0.5, cfg.Lifecycle.IntegrityFloor)
	assert.Equal(t, 50, cfg.Record.Capacity)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Catalog, cfg.Catalog)
	assert.Equal(t, Default().Lifecycle.PurgeAge, cfg.Lifecycle.PurgeAge)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[http]
addr = ":9000"
`)
	t.Setenv("SOULMESH_HTTP_ADDR", ":7777")
	t.Setenv("SOULMESH_IDLE_TIMEOUT", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.Lifecycle.IdleTimeout.Std())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "not toml ==="))
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
[lifecycle]
idle_timeout = "sideways"
`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero record capacity", func(c *Config) { c.Record.Capacity = 0 }},
		{"integrity floor above one", func(c *Config) { c.Lifecycle.IntegrityFloor = 1.5 }},
		{"quarantine above integrity", func(c *Config) { c.Lifecycle.QuarantineFloor = 0.9 }},
		{"empty user id", func(c *Config) { c.Toggles.UserID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}
