// Package sync runs the per-account state machine that keeps the store's
// mail and calendar mirrors current: Init connects and lists mailboxes,
// Priming fetches a recent mail window and each calendar's full delta, Live
// stays current via IMAP IDLE on mail only (calendars are not fetched again
// after Priming), and Degraded is entered on the first failure of any other
// state and waits with exponential backoff (1s, doubling up to 60s) before
// returning to Init. Shaped after the teacher's
// full-sync/incremental-sync split in gmail/sync.go, generalized from a
// Gmail-History-API design to IMAP IDLE plus CalDAV sync-collection.
package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jamiequint/groundeffect/internal/caldavclient"
	"github.com/jamiequint/groundeffect/internal/ids"
	"github.com/jamiequint/groundeffect/internal/imapclient"
	"github.com/jamiequint/groundeffect/internal/ingest"
	"github.com/jamiequint/groundeffect/internal/models"
	"github.com/jamiequint/groundeffect/internal/ratelimit"
	"github.com/jamiequint/groundeffect/internal/store"
)

// wakePollInterval is how often liveLoop checks for a pending trigger_sync
// request. The query server and the daemon are separate processes sharing
// only the store and this directory, so a wake request is a touched file
// rather than an in-process channel send.
const wakePollInterval = 2 * time.Second

// RequestWake records a trigger_sync request for accountID under dir.
// Called from the query server process; safe to call whether or not a
// request is already pending, since it only ever advances the file's mtime.
func RequestWake(dir, accountID string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return models.Fatal("create wake directory", err)
	}
	path := filepath.Join(dir, accountID)
	if err := os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339Nano)), 0o600); err != nil {
		return models.Fatal("write wake request", err)
	}
	return nil
}

// wakeRequestedAt reports the last time accountID's wake file was touched.
func wakeRequestedAt(dir, accountID string) (time.Time, bool) {
	if dir == "" {
		return time.Time{}, false
	}
	info, err := os.Stat(filepath.Join(dir, accountID))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// AccountState is one account's position in the sync state machine.
type AccountState string

const (
	StateInit     AccountState = "init"
	StatePriming  AccountState = "priming"
	StateLive     AccountState = "live"
	StateDegraded AccountState = "degraded"
)

// recentWindow is how far back Priming fetches by default (spec default: 90 days).
const recentWindow = 90 * 24 * time.Hour

// backfillBatchSize bounds how many older messages one backfill pass fetches.
const backfillBatchSize = 200

// degradedMaxBackoff caps the exponential backoff applied while Degraded.
const degradedMaxBackoff = 60 * time.Second

// MailSource is the subset of imapclient.Client the orchestrator drives.
// A narrow interface so tests substitute a fake without a live server.
type MailSource interface {
	Connect(ctx context.Context) error
	ListMailboxes(ctx context.Context) ([]imapclient.Mailbox, error)
	Select(ctx context.Context, mailbox string) (uint32, error)
	SearchSince(ctx context.Context, mailbox string, since time.Time) ([]uint32, error)
	SearchUnread(ctx context.Context, mailbox string) ([]uint32, error)
	FetchEnvelopes(ctx context.Context, mailbox string, uids []uint32) ([]imapclient.Envelope, error)
	FetchBodiesBatch(ctx context.Context, mailbox string, uids []uint32) ([]imapclient.RawMessage, error)
	Idle(ctx context.Context, mailbox string, ch chan<- imapclient.IdleEvent) error
	Close(ctx context.Context) error
}

// CalendarSource is the subset of caldavclient.Client the orchestrator drives.
type CalendarSource interface {
	ListCalendars(ctx context.Context) ([]caldavclient.Calendar, error)
	SyncDelta(ctx context.Context, calendarPath, syncToken string) (*caldavclient.DeltaResult, error)
}

// MessageParser turns a fetched RFC822 message plus its IMAP metadata into
// a MailItem. Kept as a function value so internal/ingest's MIME parsing
// stays decoupled from this package's scheduling concerns.
type MessageParser func(accountID, folder string, raw imapclient.RawMessage) (models.MailItem, error)

// EventParser turns a fetched CalDAV object into a CalendarItem.
type EventParser func(accountID, calendarID string, obj caldavclient.EventObject) (models.CalendarItem, error)

// Orchestrator drives every configured account's state machine.
type Orchestrator struct {
	writer   *store.Writer
	pipeline *ingest.Pipeline
	limiter  *ratelimit.Limiter
	poison   *PoisonSet
	parseMsg MessageParser
	parseEvt EventParser
	log      *slog.Logger

	mail func(accountID string) MailSource
	cal  func(accountID string) CalendarSource

	wakeDir string
}

// New constructs an Orchestrator. mailFactory/calFactory build a fresh
// client per account; they're factories rather than a fixed map so the
// orchestrator can reconnect after a Degraded episode. wakeDir may be empty,
// in which case trigger_sync requests are never observed (used in tests).
func New(
	writer *store.Writer,
	pipeline *ingest.Pipeline,
	limiter *ratelimit.Limiter,
	poison *PoisonSet,
	parseMsg MessageParser,
	parseEvt EventParser,
	mailFactory func(accountID string) MailSource,
	calFactory func(accountID string) CalendarSource,
	log *slog.Logger,
	wakeDir string,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		writer: writer, pipeline: pipeline, limiter: limiter, poison: poison,
		parseMsg: parseMsg, parseEvt: parseEvt, mail: mailFactory, cal: calFactory, log: log,
		wakeDir: wakeDir,
	}
}

// RunAccount drives one account's state machine until ctx is cancelled.
// Intended to run as its own goroutine per account; failures isolate to
// that account rather than propagating to the caller.
func (o *Orchestrator) RunAccount(ctx context.Context, account models.Account) {
	state := StateInit
	var backoff time.Duration

	for {
		if ctx.Err() != nil {
			return
		}
		switch state {
		case StateInit:
			if err := o.initAccount(ctx, account); err != nil {
				o.log.Warn("account init failed, retrying degraded", "account", account.Email, "error", err)
				state = StateDegraded
				continue
			}
			state = StatePriming

		case StatePriming:
			if err := o.primeAccount(ctx, account); err != nil {
				o.log.Warn("priming failed", "account", account.Email, "error", err)
				state = StateDegraded
				continue
			}
			_ = o.writer.SetAccountStatus(account.Email, models.AccountActive)
			backoff = 0
			state = StateLive

		case StateLive:
			if err := o.liveLoop(ctx, account); err != nil {
				o.log.Warn("live loop interrupted", "account", account.Email, "error", err)
				state = StateDegraded
				continue
			}
			return

		case StateDegraded:
			_ = o.writer.SetAccountStatus(account.Email, models.AccountSyncing)
			backoff = nextBackoff(backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			state = StateInit
		}
	}
}

func nextBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return time.Second
	}
	next := prev * 2
	if next > degradedMaxBackoff {
		return degradedMaxBackoff
	}
	return next
}

func (o *Orchestrator) initAccount(ctx context.Context, account models.Account) error {
	mail := o.mail(account.Email)
	if err := mail.Connect(ctx); err != nil {
		return err
	}
	_, err := mail.ListMailboxes(ctx)
	return err
}

// primeAccount fetches the recent window (last 90 days, plus all unread)
// for every allowed folder, and, when calendar sync is enabled, every
// calendar's full delta. Mirrors
// fullSync's "list then batch-fetch then save" shape.
func (o *Orchestrator) primeAccount(ctx context.Context, account models.Account) error {
	mail := o.mail(account.Email)
	mailboxes, err := mail.ListMailboxes(ctx)
	if err != nil {
		return err
	}

	since := time.Now().Add(-recentWindow)
	for _, mb := range mailboxes {
		if !accountAllowsFolder(account, mb.Name) {
			continue
		}
		if err := o.primeFolder(ctx, account, mail, mb.Name, since); err != nil {
			return err
		}
	}

	if account.CalendarSyncEnabled {
		if err := o.primeCalendars(ctx, account); err != nil {
			return err
		}
	}
	return nil
}

func accountAllowsFolder(account models.Account, folder string) bool {
	if len(account.FolderAllowlist) == 0 {
		return true
	}
	for _, f := range account.FolderAllowlist {
		if f == folder {
			return true
		}
	}
	return false
}

func (o *Orchestrator) primeFolder(ctx context.Context, account models.Account, mail MailSource, folder string, since time.Time) error {
	if _, err := mail.Select(ctx, folder); err != nil {
		return err
	}

	recentUIDs, err := rateLimited(ctx, o.limiter, account.Email, func() ([]uint32, error) {
		return mail.SearchSince(ctx, folder, since)
	})
	if err != nil {
		return err
	}
	unreadUIDs, err := rateLimited(ctx, o.limiter, account.Email, func() ([]uint32, error) {
		return mail.SearchUnread(ctx, folder)
	})
	if err != nil {
		return err
	}

	uids := mergeUIDs(recentUIDs, unreadUIDs)
	return o.fetchAndIngestMail(ctx, account, mail, folder, uids)
}

func mergeUIDs(a, b []uint32) []uint32 {
	seen := make(map[uint32]bool, len(a)+len(b))
	out := make([]uint32, 0, len(a)+len(b))
	for _, list := range [][]uint32{a, b} {
		for _, uid := range list {
			if !seen[uid] {
				seen[uid] = true
				out = append(out, uid)
			}
		}
	}
	return out
}

func (o *Orchestrator) fetchAndIngestMail(ctx context.Context, account models.Account, mail MailSource, folder string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	raws, err := rateLimited(ctx, o.limiter, account.Email, func() ([]imapclient.RawMessage, error) {
		return mail.FetchBodiesBatch(ctx, folder, uids)
	})
	if err != nil {
		return err
	}

	for _, raw := range raws {
		compositeID := account.Email + "|" + ids.MailMessageID(folder, raw.UID)
		if poisoned, _ := o.poison.Contains(compositeID); poisoned {
			continue
		}
		item, err := o.parseMsg(account.Email, folder, raw)
		if err != nil {
			o.log.Warn("quarantining unparsable message", "account", account.Email, "folder", folder, "uid", raw.UID, "error", err)
			_ = o.poison.Add(compositeID)
			continue
		}
		if _, err := o.pipeline.IngestMail(ctx, item); err != nil {
			if models.KindOf(err) == models.KindPoison {
				_ = o.poison.Add(compositeID)
				continue
			}
			return err
		}
	}
	return nil
}

func (o *Orchestrator) primeCalendars(ctx context.Context, account models.Account) error {
	cal := o.cal(account.Email)
	calendars, err := rateLimited(ctx, o.limiter, account.Email, func() ([]caldavclient.Calendar, error) {
		return cal.ListCalendars(ctx)
	})
	if err != nil {
		return err
	}

	for _, c := range calendars {
		delta, err := rateLimited(ctx, o.limiter, account.Email, func() (*caldavclient.DeltaResult, error) {
			return cal.SyncDelta(ctx, c.Path, "")
		})
		if err != nil {
			return err
		}
		if err := o.ingestCalendarDelta(ctx, account, c, delta); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) ingestCalendarDelta(ctx context.Context, account models.Account, cal caldavclient.Calendar, delta *caldavclient.DeltaResult) error {
	for _, obj := range delta.Changed {
		compositeID := account.Email + "|" + ids.CalendarEventID(cal.Path, obj.Path)
		if poisoned, _ := o.poison.Contains(compositeID); poisoned {
			continue
		}
		item, err := o.parseEvt(account.Email, cal.Path, obj)
		if err != nil {
			o.log.Warn("quarantining unparsable event", "account", account.Email, "calendar", cal.Path, "path", obj.Path, "error", err)
			_ = o.poison.Add(compositeID)
			continue
		}
		if _, err := o.pipeline.IngestCalendar(ctx, item); err != nil {
			if models.KindOf(err) == models.KindPoison {
				_ = o.poison.Add(compositeID)
				continue
			}
			return err
		}
	}
	return nil
}

// liveLoop subscribes to IDLE on every allowed folder and enqueues an
// incremental fetch on each notification, backfilling older messages
// between events. Returns nil only when ctx is cancelled; any transport
// error bubbles up so the caller demotes the account to Degraded.
func (o *Orchestrator) liveLoop(ctx context.Context, account models.Account) error {
	mail := o.mail(account.Email)
	events := make(chan imapclient.IdleEvent, 16)

	mailboxes, err := mail.ListMailboxes(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, len(mailboxes))
	for _, mb := range mailboxes {
		if !accountAllowsFolder(account, mb.Name) {
			continue
		}
		go func(folder string) {
			errCh <- mail.Idle(ctx, folder, events)
		}(mb.Name)
	}

	backfillTicker := time.NewTicker(5 * time.Minute)
	defer backfillTicker.Stop()
	wakeTicker := time.NewTicker(wakePollInterval)
	defer wakeTicker.Stop()
	var lastWake time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
		case ev := <-events:
			if ev.UIDValidityChanged {
				if err := o.writer.InvalidateFolderUIDs(account.Email, ev.Mailbox); err != nil {
					return err
				}
			}
			since := time.Now().Add(-24 * time.Hour)
			if err := o.primeFolder(ctx, account, mail, ev.Mailbox, since); err != nil {
				return err
			}
		case <-backfillTicker.C:
			if err := o.backfillOldest(ctx, account, mail); err != nil {
				o.log.Warn("backfill pass failed", "account", account.Email, "error", err)
			}
		case <-wakeTicker.C:
			requestedAt, ok := wakeRequestedAt(o.wakeDir, account.Email)
			if !ok || !requestedAt.After(lastWake) {
				continue
			}
			lastWake = requestedAt
			since := time.Now().Add(-24 * time.Hour)
			for _, mb := range mailboxes {
				if !accountAllowsFolder(account, mb.Name) {
					continue
				}
				if err := o.primeFolder(ctx, account, mail, mb.Name, since); err != nil {
					return err
				}
			}
		}
	}
}

// backfillOldest fetches up to backfillBatchSize messages from the first
// listed mailbox: it runs an unbounded SEARCH and keeps the first UIDs the
// server returns. No position is kept between passes, so every pass fetches
// the same batch and messages beyond it are never backfilled.
func (o *Orchestrator) backfillOldest(ctx context.Context, account models.Account, mail MailSource) error {
	mailboxes, err := mail.ListMailboxes(ctx)
	if err != nil {
		return err
	}
	if len(mailboxes) == 0 {
		return nil
	}
	folder := mailboxes[0].Name
	since := time.Time{}
	uids, err := rateLimited(ctx, o.limiter, account.Email, func() ([]uint32, error) {
		return mail.SearchSince(ctx, folder, since)
	})
	if err != nil {
		return err
	}
	if len(uids) > backfillBatchSize {
		uids = uids[:backfillBatchSize]
	}
	return o.fetchAndIngestMail(ctx, account, mail, folder, uids)
}

// rateLimited runs fn behind the orchestrator's rate limiter, retrying
// transient failures with exponential backoff. A free function rather than
// a method because Go methods cannot carry their own type parameters.
func rateLimited[T any](ctx context.Context, limiter *ratelimit.Limiter, accountID string, fn func() (T, error)) (T, error) {
	var result T
	err := limiter.DoWithBackoff(ctx, accountID, classifyRetryable, func(ctx context.Context) error {
		r, err := fn()
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func classifyRetryable(err error) bool {
	return models.KindOf(err) == models.KindTransient
}
