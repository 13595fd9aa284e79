// Package providers builds the per-account Gmail/Google Calendar clients
// shared by groundeffectd (the writer daemon) and groundeffect-query (the
// reader/tool-call process), so both composition roots wire the same IMAP,
// CalDAV, and SMTP endpoints from the same vault-backed token source instead
// of drifting apart.
package providers

import (
	"context"
	"log/slog"

	"github.com/jamiequint/groundeffect/internal/caldavclient"
	"github.com/jamiequint/groundeffect/internal/imapclient"
	"github.com/jamiequint/groundeffect/internal/mutation"
	"github.com/jamiequint/groundeffect/internal/smtpsender"
	"github.com/jamiequint/groundeffect/internal/sync"
	"github.com/jamiequint/groundeffect/internal/vault"
)

// GoogleScopes cover the four access needs SPEC_FULL.md §6 names with three
// OAuth scopes: https://mail.google.com/ grants both full IMAP and mail
// submission, then full calendar and basic profile/email.
var GoogleScopes = []string{
	"https://mail.google.com/",
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/userinfo.email",
}

const (
	ImapHost = "imap.gmail.com"
	ImapPort = 993
	SMTPHost = "smtp.gmail.com"
	SMTPPort = 587
	DAVBase  = "https://apidata.googleusercontent.com/caldav/v2"
)

// TokenSourceFor returns the XOAUTH2 access-token source imapclient,
// caldavclient, and smtpsender each accept, refreshing through the vault
// when the cached token is within five minutes of expiry.
func TokenSourceFor(v *vault.Vault, account string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		tok, err := v.RefreshIfNeeded(ctx, account)
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	}
}

func MailSourceFactory(v *vault.Vault) func(accountID string) sync.MailSource {
	return func(accountID string) sync.MailSource {
		return imapclient.New(imapclient.Config{
			Host:     ImapHost,
			Port:     ImapPort,
			Mode:     imapclient.DialTLS,
			Username: accountID,
		}, TokenSourceFor(v, accountID))
	}
}

func CalendarSourceFactory(v *vault.Vault) func(accountID string) sync.CalendarSource {
	return func(accountID string) sync.CalendarSource {
		client, err := caldavclient.New(caldavclient.Config{
			Endpoint: DAVBase,
			Username: accountID,
		}, TokenSourceFor(v, accountID))
		if err != nil {
			// New only fails constructing the underlying HTTP/WebDAV client from
			// static config; returning a client whose every call fails transiently
			// keeps the caller's own degraded/error path as the single place that
			// reacts to this, rather than a second error path at startup.
			slog.Default().Error("failed to construct CalDAV client", "account", accountID, "error", err)
		}
		return client
	}
}

func FlagMutatorFactory(v *vault.Vault) func(accountID string) mutation.FlagMutator {
	return func(accountID string) mutation.FlagMutator {
		return imapclient.New(imapclient.Config{
			Host:     ImapHost,
			Port:     ImapPort,
			Mode:     imapclient.DialTLS,
			Username: accountID,
		}, TokenSourceFor(v, accountID))
	}
}

func EventMutatorFactory(v *vault.Vault) func(accountID string) mutation.EventMutator {
	return func(accountID string) mutation.EventMutator {
		client, err := caldavclient.New(caldavclient.Config{
			Endpoint: DAVBase,
			Username: accountID,
		}, TokenSourceFor(v, accountID))
		if err != nil {
			slog.Default().Error("failed to construct CalDAV client", "account", accountID, "error", err)
		}
		return client
	}
}

func SenderFactory(v *vault.Vault) func(accountID string) mutation.MailSender {
	return func(accountID string) mutation.MailSender {
		return smtpsender.New(smtpsender.Config{
			Host:     SMTPHost,
			Port:     SMTPPort,
			Username: accountID,
		}, TokenSourceFor(v, accountID))
	}
}
