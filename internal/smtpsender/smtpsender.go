// Package smtpsender submits outgoing mail over SMTP submission
// (RFC 6409, port 587 with STARTTLS) using XOAUTH2, implementing
// internal/mutation.MailSender.
//
// No third-party SMTP or mail-submission library has any precedent
// anywhere in the example pack (a grep of every go.mod and
// other_examples/manifests/*.mod for smtp|gomail turned up nothing), so
// this is built on the standard library's net/smtp, the same choice
// internal/mutation's RFC 5322 builder already made for the same reason.
package smtpsender

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"

	"github.com/jamiequint/groundeffect/internal/models"
)

// TokenSource returns a valid XOAUTH2 access token for the account the
// Sender was constructed for.
type TokenSource func(ctx context.Context) (string, error)

// Config identifies one account's SMTP submission endpoint.
type Config struct {
	Host     string // e.g. smtp.gmail.com
	Port     int    // e.g. 587
	Username string // the mailbox's email address
}

// Sender submits RFC 5322 messages for one account via SMTP AUTH XOAUTH2.
type Sender struct {
	cfg    Config
	tokens TokenSource
}

// New constructs a Sender for one account.
func New(cfg Config, tokens TokenSource) *Sender {
	return &Sender{cfg: cfg, tokens: tokens}
}

// Send dials, authenticates, and submits raw to every recipient in to.
func (s *Sender) Send(ctx context.Context, from string, to []string, raw []byte) error {
	token, err := s.tokens(ctx)
	if err != nil {
		return models.Auth("obtain SMTP access token", err)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return models.Transient("dial SMTP server", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
		return models.Transient("SMTP STARTTLS", err)
	}

	auth := &xoauth2Auth{username: s.cfg.Username, token: token}
	if err := client.Auth(auth); err != nil {
		return models.Auth("SMTP XOAUTH2 authentication failed", err)
	}

	if err := client.Mail(from); err != nil {
		return models.Transient("SMTP MAIL FROM", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return models.Transient("SMTP RCPT TO", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return models.Transient("SMTP DATA", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return models.Transient("write SMTP message body", err)
	}
	if err := w.Close(); err != nil {
		return models.Transient("close SMTP message body", err)
	}
	return client.Quit()
}

// xoauth2Auth implements net/smtp.Auth for RFC-style SASL XOAUTH2, the same
// wire format internal/imapclient builds via go-sasl's NewXoauth2Client.
// Reimplemented by hand here since go-sasl's Client type speaks the
// imap/v2 Authenticate protocol, not net/smtp's Auth interface, and no
// pack example bridges the two.
type xoauth2Auth struct {
	username string
	token    string
}

func (a *xoauth2Auth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	resp := fmt.Appendf(nil, "user=%s\x01auth=Bearer %s\x01\x01", a.username, a.token)
	return "XOAUTH2", resp, nil
}

func (a *xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return []byte{}, nil
	}
	return nil, nil
}
