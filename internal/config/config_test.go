package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-dev/parley/internal/models"
)

func TestLoad_NoFile_ReturnsDefaults(t *testing.T) {
	s := NewStore(t.TempDir())

	cfg := s.Load()
	assert.Equal(t, models.ThemeSystem, cfg.Theme)
	assert.Empty(t, cfg.Model)
	assert.Empty(t, cfg.BaseURL)
}

func TestLoad_CorruptFile_ReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{broken"), 0o600))

	cfg := NewStore(dir).Load()
	assert.Equal(t, models.ThemeSystem, cfg.Theme)
}

func TestLoad_PartialFile_MergedWithDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"model":"claude-sonnet-4-5"}`), 0o600))

	cfg := NewStore(dir).Load()
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
	assert.Equal(t, models.ThemeSystem, cfg.Theme, "missing theme filled from defaults")
}

func TestSave_MergesOntoCurrent(t *testing.T) {
	s := NewStore(t.TempDir())

	model := "claude-opus-4-5"
	_, err := s.Save(Update{Model: &model})
	require.NoError(t, err)

	theme := models.ThemeDark
	cfg, err := s.Save(Update{Theme: &theme})
	require.NoError(t, err)

	assert.Equal(t, "claude-opus-4-5", cfg.Model, "earlier field survives later save")
	assert.Equal(t, models.ThemeDark, cfg.Theme)

	reloaded := s.Load()
	assert.Equal(t, cfg, reloaded)
}

func TestSave_InvalidTheme(t *testing.T) {
	s := NewStore(t.TempDir())

	theme := models.Theme("neon")
	_, err := s.Save(Update{Theme: &theme})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid theme")
}

func TestSave_FileMode(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	theme := models.ThemeLight
	_, err := s.Save(Update{Theme: &theme})
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
