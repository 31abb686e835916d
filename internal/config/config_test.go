package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "arbor.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, "info", cfg.Log.Level)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Engine.CascadeTimeout)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbor.yaml")
	yml := `
database:
  path: /var/lib/arbor/tree.db
  busy_timeout: 250ms
engine:
  cascade_timeout: 2m
log:
  level: debug
  format: json
actor: importer
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/arbor/tree.db", cfg.Database.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.BusyTimeout)
	assert.Equal(t, 4, cfg.Database.MaxOpenConns, "unset keys keep defaults")
	assert.Equal(t, 2*time.Minute, cfg.Engine.CascadeTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "importer", cfg.Actor)
}

func TestLoad_Rejects(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "database: [",
		"negative conns":  "database:\n  max_open_conns: -1\n",
		"unknown format":  "log:\n  format: xml\n",
		"empty db path":   "database:\n  path: \"\"\n",
		"negative budget": "engine:\n  cascade_timeout: -1s\n",
	}
	for name, yml := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "arbor.yaml")
			require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Actor = "ops"
	b, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "arbor.yaml")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
