package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getvergo/autoflow/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"LOG_LEVEL", "AUTOFLOW_DB", "REDIS_ADDR", "CDP_ENDPOINT",
		"LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL",
		"MAX_CAPTURE_SESSIONS", "SNAPSHOT_KEY", "AUTOFLOW_PROFILES_DIR",
	} {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "autoflow.db", cfg.DatabasePath)
	assert.Equal(t, "ws://localhost:9222", cfg.CDPEndpoint)
	assert.Equal(t, 5, cfg.MaxSessions)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("AUTOFLOW_DB", "/var/lib/autoflow/state.db")
	t.Setenv("MAX_CAPTURE_SESSIONS", "12")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg := config.Load()

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "/var/lib/autoflow/state.db", cfg.DatabasePath)
	assert.Equal(t, 12, cfg.MaxSessions)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}

func TestLoadIgnoresMalformedSessionLimit(t *testing.T) {
	t.Setenv("MAX_CAPTURE_SESSIONS", "lots")
	assert.Equal(t, 5, config.Load().MaxSessions)
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	profile := `
name: vergo-production
base_domain: getvergo.com
allowed_domains:
  - vergoerp.io
sso_providers:
  - "*.auth0.com"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_vergo.yaml"), []byte(profile), 0o600))

	p, err := config.LoadProfile(dir, "VERGO")
	require.NoError(t, err)
	assert.Equal(t, "vergo-production", p.Name)
	assert.Equal(t, "getvergo.com", p.BaseDomain)

	policy := p.Policy()
	assert.Equal(t, []string{"vergoerp.io"}, policy.AllowedDomains)
	assert.Equal(t, []string{"*.auth0.com"}, policy.SSOProviderPatterns)
}

func TestLoadProfileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := config.LoadProfile(dir, "nope")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_empty.yaml"), []byte("name: x"), 0o600))
	_, err = config.LoadProfile(dir, "empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no base_domain")
}

func TestListProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_a.yaml"), []byte("base_domain: a.com"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_b.yaml"), []byte("base_domain: b.com"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("#"), 0o600))

	names, err := config.ListProfiles(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
