package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[general]
log_level = "debug"

[sync]
email_idle_enabled = false
email_poll_interval_secs = 120
calendar_poll_interval_secs = 180
max_concurrent_fetches = 4

[search]
embedding_model = "text-embedding-custom"

[accounts.aliases]
work = "alice@example.com"

[accounts."alice@example.com"]
sync_enabled = true
folders = ["INBOX", "Archive"]
sync_attachments = true
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadReadsTOMLAndAccountOverrides(t *testing.T) {
	path := writeConfig(t, sampleTOML)
	t.Setenv("GROUNDEFFECT_CONFIG", path)

	cfg := Load()
	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.False(t, cfg.Sync.EmailIdleEnabled)
	assert.Equal(t, 120, cfg.Sync.EmailPollIntervalSecs)
	assert.Equal(t, "text-embedding-custom", cfg.Search.EmbeddingModel)
	assert.Equal(t, "alice@example.com", cfg.Aliases["work"])

	override, ok := cfg.Accounts["alice@example.com"]
	require.True(t, ok)
	assert.True(t, override.SyncEnabled)
	assert.Equal(t, []string{"INBOX", "Archive"}, override.Folders)
	assert.True(t, override.SyncAttachments)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("GROUNDEFFECT_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	cfg := Load()
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, defaultEmailPollIntervalSecs, cfg.Sync.EmailPollIntervalSecs)
	assert.Equal(t, defaultEmbeddingModel, cfg.Search.EmbeddingModel)
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	path := writeConfig(t, sampleTOML)
	t.Setenv("GROUNDEFFECT_CONFIG", path)
	t.Setenv("GROUNDEFFECT_LOG_LEVEL", "error")
	t.Setenv("GROUNDEFFECT_DATA_DIR", "/custom/data")
	t.Setenv("GROUNDEFFECT_OAUTH_CLIENT_ID", "client-123")
	t.Setenv("GROUNDEFFECT_OAUTH_CLIENT_SECRET", "secret-456")

	cfg := Load()
	assert.Equal(t, "error", cfg.General.LogLevel)
	assert.Equal(t, "/custom/data", cfg.General.DataDir)
	assert.Equal(t, "client-123", cfg.General.OAuthClientID)
	assert.Equal(t, "secret-456", cfg.General.OAuthClientSecret)
}

func TestValidateRejectsOutOfRangeSettings(t *testing.T) {
	cfg := defaults()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.General.LogLevel = "verbose"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Sync.EmailPollIntervalSecs = 10
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Sync.MaxConcurrentFetches = 0
	assert.Error(t, bad.Validate())
}

func TestResolveAccountHandlesAliasAndCanonical(t *testing.T) {
	cfg := defaults()
	cfg.Aliases["work"] = "alice@example.com"
	cfg.Accounts["alice@example.com"] = AccountConfig{SyncEnabled: true}

	email, ok := cfg.ResolveAccount("work")
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", email)

	email, ok = cfg.ResolveAccount("alice@example.com")
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", email)

	_, ok = cfg.ResolveAccount("nobody@example.com")
	assert.False(t, ok)
}

func TestDataDirDefaultsUnderHome(t *testing.T) {
	cfg := defaults()
	dir, err := cfg.DataDir()
	require.NoError(t, err)
	assert.Contains(t, dir, ".groundeffect")
}
