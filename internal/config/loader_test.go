package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
router:
  max_replans: 5
tools:
  shell_timeout_seconds: 45
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Router.MaxReplans)
	assert.Equal(t, 45, cfg.Tools.ShellTimeoutSeconds)
	assert.Equal(t, 0.8, cfg.Router.PrecheckConfidenceMin)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: ${TEST_LOG_LEVEL}
`), 0o644))

	t.Setenv("TEST_LOG_LEVEL", "debug")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "main.yaml")

	require.NoError(t, os.WriteFile(basePath, []byte(`
memory:
  default_context_tokens: 8000
`), 0o644))
	require.NoError(t, os.WriteFile(mainPath, []byte(`
$include: base.yaml
router:
  max_replans: 2
`), 0o644))

	cfg, err := Load(mainPath)
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Memory.DefaultContextTokens)
	assert.Equal(t, 2, cfg.Router.MaxReplans)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.yaml")
	bPath := filepath.Join(dir, "b.yaml")

	require.NoError(t, os.WriteFile(aPath, []byte("$include: b.yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(bPath, []byte("$include: a.yaml\n"), 0o644))

	_, err := Load(aPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoadRejectsNonListNonStringInclude(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("$include: 5\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadJSON5Sidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
  // trailing commas and comments are fine
  router: { max_replans: 4, },
}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Router.MaxReplans)
}
