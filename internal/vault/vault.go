// Package vault loads, persists, and refreshes the OAuth2 tokens each
// account needs to authenticate to IMAP/CalDAV via XOAUTH2. It does not
// perform the interactive OAuth consent flow: provisioning a token for a
// new account happens out-of-band, and the vault only ever refreshes what
// is already on disk.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/jamiequint/groundeffect/internal/models"
)

// refreshMargin is how far ahead of expiry RefreshIfNeeded proactively
// rotates a token, so a sync in flight never hits a 401 mid-batch.
const refreshMargin = 5 * time.Minute

// tokenFile is the on-disk representation of one account's token, stored at
// <dataDir>/secrets/token_<account>.json with 0600 permissions.
type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Refresher exchanges a refresh token for a new access token. Production
// code supplies an *oauth2.Config bound to the account's OAuth client;
// tests supply a stub.
type Refresher interface {
	TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource
}

// Vault stores and refreshes per-account OAuth tokens on disk.
type Vault struct {
	dir       string
	refresher Refresher

	mu     sync.Mutex
	cached map[string]*oauth2.Token
}

// New constructs a Vault rooted at <dataDir>/secrets.
func New(dataDir string, refresher Refresher) *Vault {
	return &Vault{
		dir:       filepath.Join(dataDir, "secrets"),
		refresher: refresher,
		cached:    make(map[string]*oauth2.Token),
	}
}

func (v *Vault) path(account string) string {
	return filepath.Join(v.dir, fmt.Sprintf("token_%s.json", account))
}

// Load reads the token for account from disk, caching it in memory.
func (v *Vault) Load(account string) (*oauth2.Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadLocked(account)
}

func (v *Vault) loadLocked(account string) (*oauth2.Token, error) {
	if t, ok := v.cached[account]; ok {
		return t, nil
	}

	data, err := os.ReadFile(v.path(account))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.NotFound(fmt.Sprintf("no token for account %s", account), err)
		}
		return nil, models.Fatal("read token file", err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, models.Fatal("parse token file", err)
	}

	tok := &oauth2.Token{
		AccessToken:  tf.AccessToken,
		TokenType:    tf.TokenType,
		RefreshToken: tf.RefreshToken,
		Expiry:       tf.Expiry,
	}
	v.cached[account] = tok
	return tok, nil
}

// Save persists tok for account, overwriting the cache and the on-disk
// file atomically (write to a temp file, then rename).
func (v *Vault) Save(account string, tok *oauth2.Token) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.saveLocked(account, tok)
}

func (v *Vault) saveLocked(account string, tok *oauth2.Token) error {
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return models.Fatal("create secrets directory", err)
	}

	tf := tokenFile{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return models.Fatal("marshal token", err)
	}

	tmp := v.path(account) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return models.Fatal("write token file", err)
	}
	if err := os.Rename(tmp, v.path(account)); err != nil {
		return models.Fatal("install token file", err)
	}

	v.cached[account] = tok
	return nil
}

// RefreshIfNeeded returns a valid access token for account, refreshing it
// first if it expires within refreshMargin. A refresh failure is classified
// as a models.Auth error so callers can move the account to NeedsReauth
// rather than retrying it as transient.
func (v *Vault) RefreshIfNeeded(ctx context.Context, account string) (*oauth2.Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	tok, err := v.loadLocked(account)
	if err != nil {
		return nil, err
	}

	if tok.Valid() && time.Until(tok.Expiry) > refreshMargin {
		return tok, nil
	}

	src := v.refresher.TokenSource(ctx, tok)
	fresh, err := src.Token()
	if err != nil {
		return nil, models.Auth(fmt.Sprintf("refresh token for account %s", account), err)
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := v.saveLocked(account, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Forget removes a cached and on-disk token, used when an account is
// removed or its reauth must start from a clean slate.
func (v *Vault) Forget(account string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cached, account)
	if err := os.Remove(v.path(account)); err != nil && !os.IsNotExist(err) {
		return models.Fatal("delete token file", err)
	}
	return nil
}
