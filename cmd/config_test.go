package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-dev/parley/internal/output"
)

// testEnv sets up an isolated state dir, viper, and output for testing.
// Returns the state dir and the captured stdout buffer.
func testEnv(t *testing.T) (string, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	origState := stateDirFunc
	stateDirFunc = func() (string, error) { return dir, nil }
	origConfig := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() {
		stateDirFunc = origState
		configDirFunc = origConfig
	})

	viper.Reset()
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("listen_addr", "127.0.0.1:8129")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("agent.max_tokens", 4096)

	out := &bytes.Buffer{}
	ui = &output.UI{Out: out, ErrOut: &bytes.Buffer{}}

	dataStore = nil
	t.Cleanup(func() { dataStore = nil })

	return dir, out
}

func TestConfigShow_Defaults(t *testing.T) {
	_, out := testEnv(t)

	require.NoError(t, configShowRun())

	rendered := out.String()
	assert.Contains(t, rendered, "theme")
	assert.Contains(t, rendered, "system")
	assert.Contains(t, rendered, "(unset)")
}

func TestConfigSet_Model(t *testing.T) {
	dir, out := testEnv(t)

	require.NoError(t, configSetRun("model", "claude-opus-4-5"))
	assert.FileExists(t, filepath.Join(dir, "config.json"))

	out.Reset()
	require.NoError(t, configShowRun())
	assert.Contains(t, out.String(), "claude-opus-4-5")
}

func TestConfigSet_InvalidTheme(t *testing.T) {
	testEnv(t)

	err := configSetRun("theme", "neon")
	assert.Error(t, err)
}

func TestConfigSet_UnknownKey(t *testing.T) {
	testEnv(t)

	err := configSetRun("bogus", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestConfigSources_NoFile(t *testing.T) {
	_, out := testEnv(t)

	require.NoError(t, configSourcesRun())

	rendered := out.String()
	assert.Contains(t, rendered, "Config file: (none)")
	assert.Contains(t, rendered, "listen_addr")
	assert.Contains(t, rendered, "(default)")
}

func TestConfigSources_FileValues(t *testing.T) {
	dir, out := testEnv(t)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("anthropic:\n  model: claude-opus-4-5\n"), 0o600))

	require.NoError(t, configSourcesRun())

	rendered := out.String()
	assert.Contains(t, rendered, cfgPath)
	assert.Contains(t, rendered, "(file)")
}

func TestDetectSource_EnvWins(t *testing.T) {
	testEnv(t)
	t.Setenv("PARLEY_LISTEN_ADDR", "127.0.0.1:9000")

	source := detectSource("listen_addr", "PARLEY_LISTEN_ADDR", map[string]bool{"listen_addr": true})
	assert.Contains(t, source, "env")
}

func TestFlattenKeys(t *testing.T) {
	result := make(map[string]bool)
	flattenKeys("", map[string]any{
		"top": "value",
		"anthropic": map[string]any{
			"model": "m",
		},
	}, result)

	assert.True(t, result["top"])
	assert.True(t, result["anthropic.model"])
	assert.False(t, result["anthropic"])
}
