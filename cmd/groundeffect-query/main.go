// Command groundeffect-query is the short-lived reader process: one
// instance is started per tool-calling session, speaks the stdio MCP tool
// protocol via github.com/mark3labs/mcp-go, and answers every read and
// mutation tool SPEC_FULL.md §6 names. It opens the store read-only and
// never competes with groundeffectd for the writer lock; the two processes
// coordinate only through the store file itself and the wake-signal files
// under cache/wake. Composition root wiring mirrors groundeffectd's own
// main, generalized from a long-running daemon to a call-and-exit process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jamiequint/groundeffect/internal/config"
	"github.com/jamiequint/groundeffect/internal/embedder"
	"github.com/jamiequint/groundeffect/internal/imapclient"
	"github.com/jamiequint/groundeffect/internal/logger"
	"github.com/jamiequint/groundeffect/internal/mcpserver"
	"github.com/jamiequint/groundeffect/internal/models"
	"github.com/jamiequint/groundeffect/internal/mutation"
	"github.com/jamiequint/groundeffect/internal/providers"
	"github.com/jamiequint/groundeffect/internal/search"
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
		fmt.Fprintln(os.Stderr, "groundeffect-query: invalid configuration:", err)
		os.Exit(1)
	}

	dataDir, err := cfg.DataDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "groundeffect-query:", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		LogDir:    filepath.Join(dataDir, "logs"),
		LogFile:   "mcp.log",
		Debug:     cfg.General.LogLevel == "debug",
		JSON:      true,
		Component: "mcp",
	}); err != nil {
		fmt.Fprintln(os.Stderr, "groundeffect-query: failed to initialize logging:", err)
		os.Exit(1)
	}
	log := slog.Default()

	v := vault.New(dataDir, &oauth2.Config{
		ClientID:     cfg.General.OAuthClientID,
		ClientSecret: cfg.General.OAuthClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       providers.GoogleScopes,
	})

	reader, err := store.NewReader(filepath.Join(dataDir, "store.db"))
	if err != nil {
		log.Error("failed to open store for reading", "error", err)
		os.Exit(1)
	}
	defer reader.Close()

	model := embedder.NewVertexModel(embedder.Config{
		ProjectID: os.Getenv("GROUNDEFFECT_VERTEX_PROJECT"),
		ModelName: cfg.Search.EmbeddingModel,
	}, providers.TokenSourceFor(v, "vertex"), nil)

	poison, err := sync.OpenPoisonSetReadOnly(filepath.Join(dataDir, "cache", "poison.json"))
	if err != nil {
		log.Warn("failed to open poison set read-only; get_sync_status will report 0", "error", err)
	}
	if poison != nil {
		defer poison.Close()
	}

	wakeDir := filepath.Join(dataDir, "cache", "wake")

	hints := make(chan mutation.Hint, 64)
	router := mutation.New(
		providers.FlagMutatorFactory(v),
		providers.EventMutatorFactory(v),
		providers.SenderFactory(v),
		hints,
	)
	go drainHintsToWake(hints, wakeDir, log)

	mcps := &mcpserver.Server{
		Reader:              reader,
		Searcher:            search.New(reader, model),
		Router:              router,
		Poison:              poison,
		WakeDir:             wakeDir,
		DataDir:             dataDir,
		AttachmentMaxSizeMB: cfg.Sync.AttachmentMaxSizeMB,
		BodyTruncationChars: cfg.Sync.BodyTruncationChars,
		MailFetcher: func(accountID string) mcpserver.AttachmentFetchSource {
			return attachmentFetchAdapter{imapclient.New(imapclient.Config{
				Host:     providers.ImapHost,
				Port:     providers.ImapPort,
				Mode:     imapclient.DialTLS,
				Username: accountID,
			}, providers.TokenSourceFor(v, accountID))}
		},
	}

	s := server.NewMCPServer("groundeffect-query", "0.1.0")
	registerTools(s, mcps)

	log.Info("groundeffect-query ready", "data_dir", dataDir)
	if err := server.ServeStdio(s); err != nil {
		log.Error("stdio server exited with error", "error", err)
		os.Exit(1)
	}
}

// drainHintsToWake converts post-mutation resync hints into the same
// wake-signal files trigger_sync uses: the Router's non-blocking channel
// send lives in this process, so the only cross-process step left is
// turning a drained hint into a touched file the daemon's liveLoop polls.
func drainHintsToWake(hints <-chan mutation.Hint, wakeDir string, log *slog.Logger) {
	for h := range hints {
		if err := sync.RequestWake(wakeDir, h.AccountID); err != nil {
			log.Warn("failed to record wake request for mutation hint", "account", h.AccountID, "error", err)
		}
	}
}

// attachmentFetchAdapter adapts imapclient.Client's richer RawMessage (an
// embedded Envelope plus RFC822 bytes) down to the (UID, RFC822) pair
// mcpserver.AttachmentFetchSource needs for a lazy get_attachment download.
type attachmentFetchAdapter struct {
	client *imapclient.Client
}

func (a attachmentFetchAdapter) Connect(ctx context.Context) error { return a.client.Connect(ctx) }
func (a attachmentFetchAdapter) Close(ctx context.Context) error   { return a.client.Close(ctx) }
func (a attachmentFetchAdapter) FetchBodiesBatch(ctx context.Context, mailbox string, uids []uint32) ([]mcpserver.FetchedMessage, error) {
	raw, err := a.client.FetchBodiesBatch(ctx, mailbox, uids)
	if err != nil {
		return nil, err
	}
	out := make([]mcpserver.FetchedMessage, len(raw))
	for i, m := range raw {
		out[i] = mcpserver.FetchedMessage{UID: m.UID, RFC822: m.RFC822}
	}
	return out, nil
}

func errorResult(err error) *mcp.CallToolResult {
	kind := models.KindOf(err)
	payload := map[string]any{
		"error": map[string]any{
			"code":    string(kind),
			"message": err.Error(),
		},
	}
	if kind == models.KindAuth {
		payload["error"].(map[string]any)["action"] = "reauthenticate the account via the vault CLI"
	}
	data, _ := json.Marshal(payload)
	return mcp.NewToolResultText(string(data))
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(string(data))
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func argInt64(args map[string]any, key string) int64 {
	return int64(argInt(args, key))
}

func argUint32(args map[string]any, key string) uint32 {
	return uint32(argInt(args, key))
}

func argUint64(args map[string]any, key string) uint64 {
	return uint64(argInt64(args, key))
}

func argBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func argStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func argTime(args map[string]any, key string) time.Time {
	s := argString(args, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func arguments(req mcp.CallToolRequest) map[string]any {
	if m, ok := req.Params.Arguments.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
