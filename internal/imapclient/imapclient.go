// Package imapclient adapts a single Gmail IMAP account to the sync
// orchestrator's provider-adapter interface: authenticate with XOAUTH2,
// list mailboxes, fetch envelopes and bodies in UID batches, watch IDLE,
// and apply flag/move/delete mutations. It speaks RFC 3501 plus IDLE,
// through github.com/emersion/go-imap/v2.
package imapclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/jamiequint/groundeffect/internal/models"
)

// DialMode picks how the adapter establishes the underlying TCP connection.
type DialMode int

const (
	DialTLS DialMode = iota
	DialStartTLS
	DialInsecure // test-only, for mock servers without TLS
)

// Config identifies one account's IMAP endpoint.
type Config struct {
	Host     string
	Port     int
	Mode     DialMode
	Username string // the mailbox's email address
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TokenSource returns the current, valid XOAUTH2 access token for the
// account the Client was constructed for. Callers typically back this with
// internal/vault.Vault.RefreshIfNeeded.
type TokenSource func(ctx context.Context) (string, error)

// Mailbox is one entry from the account's mailbox list.
type Mailbox struct {
	Name       string
	Delimiter  string
	Attrs      []imap.MailboxAttr
	UIDValidity uint32
}

func (m Mailbox) isTrash() bool {
	for _, a := range m.Attrs {
		if a == imap.MailboxAttrTrash {
			return true
		}
	}
	lower := strings.ToLower(m.Name)
	return lower == "trash" || lower == "[gmail]/trash" || lower == "deleted items"
}

// Envelope is the metadata fetched for one message without its body,
// grouped per UID batch during priming/backfill.
type Envelope struct {
	UID          uint32
	UIDValidity  uint32
	Flags        []imap.Flag
	InternalDate time.Time
	Size         uint32
}

// RawMessage is a fetched message body plus the metadata needed to parse
// and store it; ingest.Pipeline turns this into a models.MailItem.
type RawMessage struct {
	Envelope
	RFC822 []byte
}

// IdleEvent reports a mailbox change observed while an IDLE command is
// outstanding. The orchestrator enqueues an incremental fetch on receipt.
type IdleEvent struct {
	Mailbox string
	// UIDValidityChanged is set when the orchestrator must invalidate and
	// re-map every UID previously recorded for Mailbox.
	UIDValidityChanged bool
}

// Client is a single account's IMAP connection. It is not safe for
// concurrent use by multiple goroutines except via its exported methods,
// which serialize access internally — IMAP only allows one command in
// flight per connection.
type Client struct {
	cfg    Config
	tokens TokenSource

	mu              sync.Mutex
	conn            *imapclient.Client
	selectedMailbox string
	mailboxCache    []Mailbox
	trashMailbox    string
}

// New constructs a Client for one account. Connect must be called before
// any other method.
func New(cfg Config, tokens TokenSource) *Client {
	return &Client{cfg: cfg, tokens: tokens}
}

// Connect dials the server and authenticates with XOAUTH2. It is
// idempotent: calling it again after a disconnect re-establishes the
// session transparently.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	var conn *imapclient.Client
	var err error

	options := &imapclient.Options{}
	switch c.cfg.Mode {
	case DialTLS:
		conn, err = imapclient.DialTLS(c.cfg.addr(), options)
	case DialStartTLS:
		conn, err = imapclient.DialStartTLS(c.cfg.addr(), options)
	default:
		conn, err = imapclient.DialInsecure(c.cfg.addr(), options)
	}
	if err != nil {
		return models.Transient("dial IMAP server", err)
	}

	token, err := c.tokens(ctx)
	if err != nil {
		conn.Close()
		return models.Auth("obtain access token", err)
	}

	saslClient := sasl.NewXoauth2Client(c.cfg.Username, token)
	if err := conn.Authenticate(saslClient); err != nil {
		conn.Close()
		return models.Auth("XOAUTH2 authentication failed", err)
	}

	c.conn = conn
	c.selectedMailbox = ""
	c.mailboxCache = nil
	c.trashMailbox = ""
	return nil
}

// withConn ensures a live connection exists, reconnecting once on demand,
// then runs fn while holding the client's lock.
func (c *Client) withConn(ctx context.Context, fn func(conn *imapclient.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}
	return fn(c.conn)
}

// ListMailboxes returns every mailbox the account exposes, caching the
// result until the next Connect.
func (c *Client) ListMailboxes(ctx context.Context) ([]Mailbox, error) {
	var out []Mailbox
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if c.mailboxCache != nil {
			out = c.mailboxCache
			return nil
		}
		entries, err := conn.List("", "*", nil).Collect()
		if err != nil {
			return models.Transient("list mailboxes", err)
		}
		boxes := make([]Mailbox, 0, len(entries))
		for _, e := range entries {
			mb := Mailbox{Name: e.Mailbox, Delimiter: e.Delim, Attrs: e.Attrs}
			if mb.isTrash() {
				c.trashMailbox = mb.Name
			}
			boxes = append(boxes, mb)
		}
		c.mailboxCache = boxes
		out = boxes
		return nil
	})
	return out, err
}

// TrashMailbox returns the account's trash folder name, discovering it via
// ListMailboxes if not already known.
func (c *Client) TrashMailbox(ctx context.Context) (string, error) {
	if _, err := c.ListMailboxes(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trashMailbox, nil
}

// Select opens mailbox for subsequent commands and reports its current
// UID-validity, used by the orchestrator to detect a rollover against the
// value stored in sync-state.
func (c *Client) Select(ctx context.Context, mailbox string) (uidValidity uint32, err error) {
	err = c.withConn(ctx, func(conn *imapclient.Client) error {
		if c.selectedMailbox == mailbox {
			data, selErr := conn.Select(mailbox, nil).Wait()
			if selErr != nil {
				return models.Transient("select mailbox", selErr)
			}
			uidValidity = data.UIDValidity
			return nil
		}
		data, selErr := conn.Select(mailbox, nil).Wait()
		if selErr != nil {
			return models.Transient("select mailbox", selErr)
		}
		c.selectedMailbox = mailbox
		uidValidity = data.UIDValidity
		return nil
	})
	return uidValidity, err
}

// SearchSince returns every UID in mailbox whose INTERNALDATE is on or
// after since, used to seed the priming window and backfill batches.
func (c *Client) SearchSince(ctx context.Context, mailbox string, since time.Time) ([]uint32, error) {
	if _, err := c.Select(ctx, mailbox); err != nil {
		return nil, err
	}
	var uids []uint32
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		criteria := &imap.SearchCriteria{}
		if !since.IsZero() {
			criteria.Since = since
		}
		data, searchErr := conn.UIDSearch(criteria, &imap.SearchOptions{ReturnAll: true}).Wait()
		if searchErr != nil {
			return models.Transient("UID search", searchErr)
		}
		uids = data.AllUIDs()
		return nil
	})
	return uids, err
}

// SearchUnread returns every unread UID in mailbox, used to widen the
// priming window beyond the recency cutoff per the spec's cold-start test.
func (c *Client) SearchUnread(ctx context.Context, mailbox string) ([]uint32, error) {
	if _, err := c.Select(ctx, mailbox); err != nil {
		return nil, err
	}
	var uids []uint32
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		criteria := &imap.SearchCriteria{
			NotFlag: []imap.Flag{imap.FlagSeen},
		}
		data, searchErr := conn.UIDSearch(criteria, &imap.SearchOptions{ReturnAll: true}).Wait()
		if searchErr != nil {
			return models.Transient("UID search unread", searchErr)
		}
		uids = data.AllUIDs()
		return nil
	})
	return uids, err
}

// FetchEnvelopes fetches flags, internal date, and size for the given UIDs
// without their bodies, used for the lightweight envelope-batch fetch task.
func (c *Client) FetchEnvelopes(ctx context.Context, mailbox string, uids []uint32) ([]Envelope, error) {
	uidValidity, err := c.Select(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	var out []Envelope
	err = c.withConn(ctx, func(conn *imapclient.Client) error {
		set := toUIDSet(uids)
		opts := &imap.FetchOptions{
			UID:          true,
			Flags:        true,
			InternalDate: true,
			RFC822Size:   true,
		}
		msgs, fetchErr := conn.Fetch(set, opts).Collect()
		if fetchErr != nil {
			return models.Transient("fetch envelopes", fetchErr)
		}
		for _, m := range msgs {
			out = append(out, Envelope{
				UID:          uint32(m.UID),
				UIDValidity:  uidValidity,
				Flags:        m.Flags,
				InternalDate: m.InternalDate,
				Size:         m.RFC822Size,
			})
		}
		return nil
	})
	return out, err
}

// maxBodyFetchBytes caps the total RFC822 size fetched in one batch, so a
// handful of huge messages never starve a backfill cycle's other work.
const maxBodyFetchBytes = 25 * 1024 * 1024

// FetchBodiesBatch fetches full RFC822 content for uids in mailbox,
// splitting into sub-batches so no single Fetch call exceeds
// maxBodyFetchBytes of declared message size.
func (c *Client) FetchBodiesBatch(ctx context.Context, mailbox string, uids []uint32) ([]RawMessage, error) {
	envelopes, err := c.FetchEnvelopes(ctx, mailbox, uids)
	if err != nil {
		return nil, err
	}

	batches := splitByByteBudget(envelopes, maxBodyFetchBytes)

	var out []RawMessage
	for _, batch := range batches {
		msgs, err := c.fetchBodiesOnce(ctx, mailbox, batch)
		if err != nil {
			return out, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (c *Client) fetchBodiesOnce(ctx context.Context, mailbox string, batch []Envelope) ([]RawMessage, error) {
	uidValidity, err := c.Select(ctx, mailbox)
	if err != nil {
		return nil, err
	}

	byUID := make(map[uint32]Envelope, len(batch))
	uids := make([]uint32, 0, len(batch))
	for _, e := range batch {
		byUID[e.UID] = e
		uids = append(uids, e.UID)
	}

	var out []RawMessage
	err = c.withConn(ctx, func(conn *imapclient.Client) error {
		set := toUIDSet(uids)
		opts := &imap.FetchOptions{
			UID:         true,
			Flags:       true,
			BodySection: []*imap.FetchItemBodySection{{}},
		}
		msgs, fetchErr := conn.Fetch(set, opts).Collect()
		if fetchErr != nil {
			return models.Transient("fetch bodies", fetchErr)
		}
		for _, m := range msgs {
			env := byUID[uint32(m.UID)]
			env.UIDValidity = uidValidity
			var raw []byte
			for _, section := range m.BodySection {
				raw = section.Bytes
				break
			}
			out = append(out, RawMessage{Envelope: env, RFC822: raw})
		}
		return nil
	})
	return out, err
}

// Move relocates one message into destMailbox, used for archive and
// trash (move_mail, delete_mail before expunge).
func (c *Client) Move(ctx context.Context, mailbox string, uid uint32, destMailbox string) error {
	if _, err := c.Select(ctx, mailbox); err != nil {
		return err
	}
	return c.withConn(ctx, func(conn *imapclient.Client) error {
		set := toUIDSet([]uint32{uid})
		if _, err := conn.Move(set, destMailbox).Wait(); err != nil {
			return models.Transient("move message", err)
		}
		return nil
	})
}

// SetFlags adds (add=true) or removes (add=false) flags on one message
// (mark_read/mark_unread via \Seen, delete via \Deleted).
func (c *Client) SetFlags(ctx context.Context, mailbox string, uid uint32, flags []imap.Flag, add bool) error {
	if _, err := c.Select(ctx, mailbox); err != nil {
		return err
	}
	return c.withConn(ctx, func(conn *imapclient.Client) error {
		set := toUIDSet([]uint32{uid})
		op := imap.StoreFlagsDel
		if add {
			op = imap.StoreFlagsAdd
		}
		storeFlags := &imap.StoreFlags{Op: op, Flags: flags}
		if err := conn.Store(set, storeFlags, nil).Close(); err != nil {
			return models.Transient("store flags", err)
		}
		return nil
	})
}

// Delete permanently removes one message: STORE \Deleted then UID EXPUNGE.
// Used by delete_mail for messages already in Trash (the move_mail path
// handles the initial move-to-trash step separately).
func (c *Client) Delete(ctx context.Context, mailbox string, uid uint32) error {
	if err := c.SetFlags(ctx, mailbox, uid, []imap.Flag{imap.FlagDeleted}, true); err != nil {
		return err
	}
	return c.withConn(ctx, func(conn *imapclient.Client) error {
		set := toUIDSet([]uint32{uid})
		if err := conn.UIDExpunge(set).Close(); err != nil {
			return models.Transient("expunge message", err)
		}
		return nil
	})
}

// Idle opens an IDLE command against mailbox and blocks until ctx is
// cancelled or the server reports a change, emitting events on ch. The
// orchestrator's Live state runs one of these per subscribed folder.
func (c *Client) Idle(ctx context.Context, mailbox string, ch chan<- IdleEvent) error {
	if _, err := c.Select(ctx, mailbox); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return models.Transient("idle: no connection", nil)
	}

	cmd, err := conn.Idle()
	if err != nil {
		return models.Transient("start idle", err)
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		cmd.Close()
		close(done)
	}()

	select {
	case <-done:
		return ctx.Err()
	default:
	}

	if err := cmd.Wait(); err != nil {
		return models.Transient("idle wait", err)
	}

	select {
	case ch <- IdleEvent{Mailbox: mailbox}:
	default:
	}
	return nil
}

// Close logs out and releases the underlying connection.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Logout().Wait()
	c.conn.Close()
	c.conn = nil
	if err != nil {
		return models.Transient("logout", err)
	}
	return nil
}

func toUIDSet(uids []uint32) imap.UIDSet {
	set := imap.UIDSet{}
	for _, u := range uids {
		set.AddNum(imap.UID(u))
	}
	return set
}

// splitByByteBudget groups envelopes into sub-batches whose cumulative
// declared Size never exceeds budget, preserving input order.
func splitByByteBudget(envelopes []Envelope, budget uint32) [][]Envelope {
	var batches [][]Envelope
	var current []Envelope
	var total uint32

	for _, e := range envelopes {
		if len(current) > 0 && total+e.Size > budget {
			batches = append(batches, current)
			current = nil
			total = 0
		}
		current = append(current, e)
		total += e.Size
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
