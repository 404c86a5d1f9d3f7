package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, []string{"/api/v1", "/api/v2"}, cfg.APIPrefixes)
	assert.Equal(t, OrphanPolicyRetain, cfg.Groups.OrphanPolicy)
	assert.Equal(t, 10*time.Second, cfg.Bridge.Timeout)
	assert.Equal(t, "https://api.questplus.in/", cfg.Bridge.APIBaseURL)
	assert.Zero(t, cfg.Access.RoleCacheTTL)
	assert.Equal(t, 3, cfg.Accounts.UsernameMaxRetries)
}

func TestLoadRejectsUnknownOrphanPolicy(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GROUP_ORPHAN_POLICY", "cascade")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GROUP_ORPHAN_POLICY")
}

func TestLoadRejectsInsecureBridgeInProduction(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ENV", EnvProduction)
	t.Setenv("BRIDGE_INSECURE_SKIP_VERIFY", "true")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsBadAESKeyLength(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PASSWORD_AES_KEY", "short")

	_, err := Load()
	require.Error(t, err)
}

func TestEnsureTrailingSlash(t *testing.T) {
	assert.Equal(t, "https://example.com/", ensureTrailingSlash("https://example.com"))
	assert.Equal(t, "https://example.com/", ensureTrailingSlash("https://example.com/"))
	assert.Equal(t, "", ensureTrailingSlash(" "))
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
