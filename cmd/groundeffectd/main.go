// Command groundeffectd is the long-running writer daemon: it holds the
// store's exclusive write lock and drives every configured account's sync
// state machine. Mutation calls and tool-call reads are answered by the
// separate groundeffect-query process against the same store; the two only
// coordinate through the filesystem (store.db's WAL, and the wake-signal
// files under cache/wake), never a socket between them. Composition root
// wiring follows the teacher's acp-server entrypoint (flag parsing,
// signal-driven shutdown), generalized from a single agent process to a
// multi-account sync daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	stdsync "sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jamiequint/groundeffect/internal/calparse"
	"github.com/jamiequint/groundeffect/internal/config"
	"github.com/jamiequint/groundeffect/internal/embedder"
	"github.com/jamiequint/groundeffect/internal/ingest"
	"github.com/jamiequint/groundeffect/internal/logger"
	"github.com/jamiequint/groundeffect/internal/mailparse"
	"github.com/jamiequint/groundeffect/internal/models"
	"github.com/jamiequint/groundeffect/internal/providers"
	"github.com/jamiequint/groundeffect/internal/ratelimit"
	"github.com/jamiequint/groundeffect/internal/store"
	"github.com/jamiequint/groundeffect/internal/sync"
	"github.com/jamiequint/groundeffect/internal/vault"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg := config.Load()
	if *debug {
		cfg.General.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "groundeffectd: invalid configuration:", err)
		os.Exit(1)
	}

	dataDir, err := cfg.DataDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "groundeffectd:", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		LogDir:    filepath.Join(dataDir, "logs"),
		LogFile:   "daemon.log",
		Debug:     cfg.General.LogLevel == "debug",
		JSON:      true,
		Component: "daemon",
	}); err != nil {
		fmt.Fprintln(os.Stderr, "groundeffectd: failed to initialize logging:", err)
		os.Exit(1)
	}
	log := slog.Default()

	if cfg.General.OAuthClientID == "" || cfg.General.OAuthClientSecret == "" {
		log.Error("missing OAuth client credentials; set general.oauth_client_id/oauth_client_secret or GROUNDEFFECT_OAUTH_CLIENT_ID/SECRET")
		os.Exit(1)
	}

	v := vault.New(dataDir, &oauth2.Config{
		ClientID:     cfg.General.OAuthClientID,
		ClientSecret: cfg.General.OAuthClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       providers.GoogleScopes,
	})

	writer, err := store.NewWriter(filepath.Join(dataDir, "store.db"))
	if err != nil {
		log.Error("failed to acquire store writer lock; another groundeffectd instance is likely already running against this data directory", "error", err)
		os.Exit(1)
	}

	model := embedder.NewVertexModel(embedder.Config{
		ProjectID: os.Getenv("GROUNDEFFECT_VERTEX_PROJECT"),
		ModelName: cfg.Search.EmbeddingModel,
	}, providers.TokenSourceFor(v, "vertex"), nil)

	pipeline := ingest.New(writer, model)
	limiter := ratelimit.New(ratelimit.DefaultConfig())

	poison, err := sync.OpenPoisonSet(filepath.Join(dataDir, "cache", "poison.json"))
	if err != nil {
		log.Error("failed to open poison set", "error", err)
		os.Exit(1)
	}

	wakeDir := filepath.Join(dataDir, "cache", "wake")
	orchestrator := sync.New(
		writer, pipeline, limiter, poison,
		mailparse.Parse, calparse.Parse,
		providers.MailSourceFactory(v), providers.CalendarSourceFactory(v),
		log, wakeDir,
	)

	accounts, err := loadAccounts(cfg, writer, log)
	if err != nil {
		log.Error("failed to resolve configured accounts", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, draining and shutting down", "signal", sig.String())
		cancel()
	}()

	var wg stdsync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			orchestrator.RunAccount(ctx, account)
		}()
	}

	log.Info("groundeffectd started", "accounts", len(accounts), "data_dir", dataDir)
	wg.Wait()

	if err := poison.Close(); err != nil {
		log.Warn("failed to close poison set cleanly", "error", err)
	}
	if err := writer.Close(); err != nil {
		log.Warn("failed to release writer lock cleanly", "error", err)
	}
	log.Info("groundeffectd stopped")
}

// loadAccounts seeds the store from config.toml's [accounts.*] overrides on
// every start, carrying over the status/sync-timestamp state a previous run
// already recorded, then reads back the authoritative rows. Per-account
// upsert failures are collected with go-multierror rather than aborting on
// the first bad entry, so one malformed account in config.toml does not
// block every other configured account from starting.
func loadAccounts(cfg config.Config, writer *store.Writer, log *slog.Logger) ([]models.Account, error) {
	reader, err := store.NewReader(writer.Path())
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var errs *multierror.Error
	for email, override := range cfg.Accounts {
		alias := ""
		for a, canonical := range cfg.Aliases {
			if canonical == email {
				alias = a
				break
			}
		}
		acct := models.Account{
			Email:               email,
			Alias:               alias,
			Status:              models.AccountSyncing,
			AddedAt:             time.Now(),
			EmailSyncEnabled:    override.SyncEnabled,
			CalendarSyncEnabled: override.SyncEnabled,
			FolderAllowlist:     override.Folders,
			DownloadAttachments: override.SyncAttachments,
		}
		if prev, err := reader.GetAccount(email); err == nil {
			acct.Status, acct.AddedAt = prev.Status, prev.AddedAt
			acct.LastEmailSync, acct.LastCalendarSync = prev.LastEmailSync, prev.LastCalendarSync
		}
		if err := writer.UpsertAccount(acct); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("account %s: %w", email, err))
		}
	}
	if errs != nil {
		log.Warn("some accounts failed to seed from config", "error", errs)
	}

	accounts, err := reader.ListAccounts()
	if err != nil {
		errs = multierror.Append(errs, err)
		return nil, errs.ErrorOrNil()
	}
	return accounts, nil
}
