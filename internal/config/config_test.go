package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calfuse/internal/policy"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().DatabasePath, cfg.DatabasePath)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Len(t, cfg.Policy.Bands, 4)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calfuse.yaml")
	content := `
database_path: /var/lib/calfuse/cal.db
engine:
  workers: 12
  relaxed: true
policy:
  min_execution_score: 0.6
  bands:
    - band: EXCELLENT
      threshold: 0.80
      factor: 1.2
    - band: GOOD
      threshold: 0.70
      factor: 1.0
    - band: ACCEPTABLE
      threshold: 0.60
      factor: 0.8
    - band: POOR
      threshold: 0
      factor: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/calfuse/cal.db", cfg.DatabasePath)
	assert.Equal(t, 12, cfg.Engine.Workers)
	assert.True(t, cfg.Engine.Relaxed)
	assert.InDelta(t, 0.6, cfg.Policy.MinExecutionScore, 1e-9)

	// The alternate band variant loads and builds a working policy.
	p, err := cfg.BuildPolicy()
	require.NoError(t, err)
	assert.Equal(t, policy.BandExcellent, p.QualityBand(0.81))
	assert.Equal(t, policy.BandAcceptable, p.QualityBand(0.60))
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calfuse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CALFUSE_DB", "/tmp/env.db")
	t.Setenv("CALFUSE_SIGNING_KEY", "env-key")
	t.Setenv("CALFUSE_WORKERS", "9")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.DatabasePath)
	assert.Equal(t, "env-key", cfg.Signing.Key)
	assert.Equal(t, 9, cfg.Engine.Workers)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "calfuse.yaml")

	cfg := DefaultConfig()
	cfg.SourceDir = "/etc/calfuse/sources"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.SourceDir, loaded.SourceDir)
	assert.Equal(t, cfg.Policy.DriftWindow, loaded.Policy.DriftWindow)
}

func TestBuildPolicy_DefaultsWhenEmpty(t *testing.T) {
	cfg := &Config{}
	p, err := cfg.BuildPolicy()
	require.NoError(t, err)
	assert.Equal(t, policy.BandPoor, p.QualityBand(0.1))
}
