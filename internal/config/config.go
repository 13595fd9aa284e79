// Package config loads GroundEffect's operator and daemon configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the operator-facing settings read from config.toml, with
// environment variable overrides applied on top.
type Config struct {
	General  GeneralConfig           `toml:"general"`
	Sync     SyncConfig              `toml:"sync"`
	Search   SearchConfig            `toml:"search"`
	Accounts map[string]AccountConfig `toml:"accounts"`
	Aliases  map[string]string       `toml:"-"`
}

// GeneralConfig holds process-wide settings.
type GeneralConfig struct {
	// LogLevel is one of debug, info, warn, error.
	// Env override: GROUNDEFFECT_LOG_LEVEL
	LogLevel string `toml:"log_level"`

	// DataDir overrides the data root (store, attachments, models, logs).
	// Env override: GROUNDEFFECT_DATA_DIR
	DataDir string `toml:"data_dir"`

	// ConfigDir holds config.toml, daemon.toml and tokens/. Not itself a
	// config key; set by the loader from the path it read config.toml from.
	ConfigDir string `toml:"-"`

	// OAuthClientID/OAuthClientSecret identify the installed-app OAuth
	// client every account's token is refreshed against. Not a per-account
	// setting: Google issues one client for the whole application.
	// Env overrides: GROUNDEFFECT_OAUTH_CLIENT_ID, GROUNDEFFECT_OAUTH_CLIENT_SECRET
	OAuthClientID     string `toml:"oauth_client_id"`
	OAuthClientSecret string `toml:"oauth_client_secret"`
}

// SyncConfig holds orchestrator scheduling knobs.
type SyncConfig struct {
	EmailIdleEnabled          bool `toml:"email_idle_enabled"`
	EmailPollIntervalSecs     int  `toml:"email_poll_interval_secs"`
	CalendarPollIntervalSecs  int  `toml:"calendar_poll_interval_secs"`
	MaxConcurrentFetches      int  `toml:"max_concurrent_fetches"`
	AttachmentMaxSizeMB       int  `toml:"attachment_max_size_mb"`
	BodyTruncationChars       int  `toml:"body_truncation_chars"`
}

// SearchConfig holds embedding/search knobs.
type SearchConfig struct {
	EmbeddingModel string `toml:"embedding_model"`
	UseMetal       bool   `toml:"use_metal"`
}

// AccountConfig holds per-account overrides keyed by canonical email address.
type AccountConfig struct {
	SyncEnabled     bool     `toml:"sync_enabled"`
	Folders         []string `toml:"folders"`
	SyncAttachments bool     `toml:"sync_attachments"`
}

// rawConfig mirrors the TOML layout, where aliases live alongside
// per-account overrides under [accounts], e.g.:
//
//	[accounts.aliases]
//	work = "a@x.test"
//	[accounts."a@x.test"]
//	sync_enabled = true
type rawConfig struct {
	General GeneralConfig `toml:"general"`
	Sync    SyncConfig    `toml:"sync"`
	Search  SearchConfig  `toml:"search"`
	Accounts struct {
		Aliases map[string]string `toml:"aliases"`
	} `toml:"accounts"`
}

const (
	defaultEmailPollIntervalSecs    = 300
	defaultCalendarPollIntervalSecs = 300
	defaultMaxConcurrentFetches     = 8
	defaultAttachmentMaxSizeMB      = 25
	defaultBodyTruncationChars      = 40000
	defaultEmbeddingModel           = "text-embedding-005"
)

func defaults() Config {
	return Config{
		General: GeneralConfig{LogLevel: "info"},
		Sync: SyncConfig{
			EmailIdleEnabled:         true,
			EmailPollIntervalSecs:    defaultEmailPollIntervalSecs,
			CalendarPollIntervalSecs: defaultCalendarPollIntervalSecs,
			MaxConcurrentFetches:     defaultMaxConcurrentFetches,
			AttachmentMaxSizeMB:      defaultAttachmentMaxSizeMB,
			BodyTruncationChars:      defaultBodyTruncationChars,
		},
		Search:   SearchConfig{EmbeddingModel: defaultEmbeddingModel},
		Accounts: map[string]AccountConfig{},
		Aliases:  map[string]string{},
	}
}

// Load reads config.toml, then applies environment variable overrides.
// Locations checked in order:
//  1. GROUNDEFFECT_CONFIG env var (if set)
//  2. ~/.groundeffect/config.toml
//
// A missing file is not an error; defaults plus env overrides are returned.
func Load() Config {
	cfg := defaults()

	configPath := os.Getenv("GROUNDEFFECT_CONFIG")
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Warn("failed to resolve home directory for config", "error", err)
			applyEnvOverrides(&cfg)
			return cfg
		}
		configPath = filepath.Join(home, ".groundeffect", "config.toml")
	}
	cfg.General.ConfigDir = filepath.Dir(configPath)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read config file", "path", configPath, "error", err)
		}
		applyEnvOverrides(&cfg)
		return cfg
	}

	var raw rawConfig
	raw.General = cfg.General
	raw.Sync = cfg.Sync
	raw.Search = cfg.Search
	if _, err := toml.Decode(string(data), &raw); err != nil {
		slog.Warn("failed to parse config file", "path", configPath, "error", err)
		applyEnvOverrides(&cfg)
		return cfg
	}

	// Decode twice: once for the typed sections above, once more to recover
	// the per-account override map, whose keys are arbitrary email addresses
	// and therefore can't share a struct field with "aliases".
	var accountsOnly struct {
		Accounts map[string]AccountConfig `toml:"accounts"`
	}
	_, _ = toml.Decode(string(data), &accountsOnly)
	delete(accountsOnly.Accounts, "aliases")

	cfg.General = raw.General
	cfg.Sync = raw.Sync
	cfg.Search = raw.Search
	if raw.Accounts.Aliases != nil {
		cfg.Aliases = raw.Accounts.Aliases
	}
	if accountsOnly.Accounts != nil {
		cfg.Accounts = accountsOnly.Accounts
	}

	applyEnvOverrides(&cfg)
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the config.
// Env vars take precedence over config file values.
func applyEnvOverrides(cfg *Config) {
	if lvl := os.Getenv("GROUNDEFFECT_LOG_LEVEL"); lvl != "" {
		cfg.General.LogLevel = lvl
	}
	if dir := os.Getenv("GROUNDEFFECT_DATA_DIR"); dir != "" {
		cfg.General.DataDir = dir
	}
	if id := os.Getenv("GROUNDEFFECT_OAUTH_CLIENT_ID"); id != "" {
		cfg.General.OAuthClientID = id
	}
	if secret := os.Getenv("GROUNDEFFECT_OAUTH_CLIENT_SECRET"); secret != "" {
		cfg.General.OAuthClientSecret = secret
	}
}

// Validate checks the ranges §6 of the spec names as recognised, returning
// a descriptive error for the first violation found.
func (c Config) Validate() error {
	switch c.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: general.log_level must be one of debug|info|warn|error, got %q", c.General.LogLevel)
	}
	if c.Sync.EmailPollIntervalSecs < 60 || c.Sync.EmailPollIntervalSecs > 3600 {
		return fmt.Errorf("config: sync.email_poll_interval_secs must be in [60, 3600], got %d", c.Sync.EmailPollIntervalSecs)
	}
	if c.Sync.CalendarPollIntervalSecs < 60 || c.Sync.CalendarPollIntervalSecs > 3600 {
		return fmt.Errorf("config: sync.calendar_poll_interval_secs must be in [60, 3600], got %d", c.Sync.CalendarPollIntervalSecs)
	}
	if c.Sync.MaxConcurrentFetches < 1 || c.Sync.MaxConcurrentFetches > 50 {
		return fmt.Errorf("config: sync.max_concurrent_fetches must be in [1, 50], got %d", c.Sync.MaxConcurrentFetches)
	}
	return nil
}

// DataDir returns the resolved data root, defaulting to ~/.groundeffect/data.
func (c Config) DataDir() (string, error) {
	if c.General.DataDir != "" {
		return c.General.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve data dir: %w", err)
	}
	return filepath.Join(home, ".groundeffect", "data"), nil
}

// ResolveAccount resolves an alias or canonical address to the canonical
// address, and reports whether it is known at all (alias or account entry).
func (c Config) ResolveAccount(aliasOrEmail string) (string, bool) {
	if email, ok := c.Aliases[aliasOrEmail]; ok {
		return email, true
	}
	if _, ok := c.Accounts[aliasOrEmail]; ok {
		return aliasOrEmail, true
	}
	return aliasOrEmail, false
}
