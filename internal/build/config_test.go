package build

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, source, err := LoadConfig(t.TempDir(), "")
	require.NoError(t, err)

	assert.Empty(t, source)
	assert.Equal(t, "/ct/processing", cfg.CertPath)
	assert.Equal(t, "mlbf", cfg.OutDirName)
	assert.InDelta(t, 1.1, cfg.Capacity, 0)
}

func TestLoadConfigProjectFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ConfigFileName), `{
		// project defaults
		"cert_path": "/data/ct",
		"exclude_aki": ["BAD1", "BAD2"],
	}`)

	cfg, source, err := LoadConfig(dir, "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, ConfigFileName), source)
	assert.Equal(t, "/data/ct", cfg.CertPath)
	assert.Equal(t, []string{"BAD1", "BAD2"}, cfg.ExcludeAKI)
	// Untouched keys keep their defaults.
	assert.Equal(t, "mlbf", cfg.OutDirName)
}

func TestLoadConfigExplicitMissing(t *testing.T) {
	t.Parallel()

	_, _, err := LoadConfig(t.TempDir(), "nope.json")
	require.ErrorIs(t, err, errConfigFileNotFound)
}

func TestLoadConfigUnreadable(t *testing.T) {
	t.Parallel()

	// A directory at the config path fails ReadFile with something other
	// than not-exist; that must surface as a read error, not "not found".
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "cfg.json"), 0o755))

	_, _, err := LoadConfig(dir, "cfg.json")
	require.ErrorIs(t, err, errConfigFileRead)
	require.NotErrorIs(t, err, errConfigFileNotFound)
}

func TestLoadConfigUnknownKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ConfigFileName), `{"certpath": "/typo"}`)

	_, _, err := LoadConfig(dir, "")
	require.ErrorIs(t, err, errConfigInvalid)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	err := cfg.Validate()
	if !errors.Is(err, errIDRequired) {
		t.Errorf("Validate without id = %v, want errIDRequired", err)
	}

	cfg.ID = "b1"
	require.NoError(t, cfg.Validate())

	cfg.Capacity = 0
	require.ErrorIs(t, cfg.Validate(), errCapacityInvalid)

	cfg.Capacity = 1.1
	cfg.OutDirName = ""
	require.ErrorIs(t, cfg.Validate(), errOutDirNameEmpty)
}

func TestExcludeSet(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Nil(t, cfg.excludeSet())

	cfg.ExcludeAKI = []string{"A1", "A2"}
	assert.Equal(t, map[string]bool{"A1": true, "A2": true}, cfg.excludeSet())
}
