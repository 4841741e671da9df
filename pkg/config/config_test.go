package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing-herakles.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9477, cfg.Port)
	assert.Equal(t, "off", cfg.SearchMode)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.True(t, cfg.EnableRSS)
}

func TestLoadReadsFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herakles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9999\nsearch_mode: include\nsearch_groups: [\"db\"]\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "include", cfg.SearchMode)
	assert.Equal(t, []string{"db"}, cfg.SearchGroups)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herakles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9999\n"), 0o644))

	t.Setenv("HERAKLES_PORT", "7777")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Port)
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := &Config{Port: 0, Parallelism: 1, SearchMode: "off"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownSearchMode(t *testing.T) {
	cfg := &Config{Port: 9477, Parallelism: 1, SearchMode: "bogus"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsTLSWithoutMaterials(t *testing.T) {
	cfg := &Config{Port: 9477, Parallelism: 1, SearchMode: "off", EnableTLS: true}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsTLSWithBothPaths(t *testing.T) {
	cfg := &Config{Port: 9477, Parallelism: 1, SearchMode: "off", EnableTLS: true, TLSCertPath: "cert.pem", TLSKeyPath: "key.pem"}
	assert.NoError(t, cfg.Validate())
}
