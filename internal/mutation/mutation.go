// Package mutation issues the provider-side calls behind every write
// operation the query server exposes (send mail, event CRUD, flag
// changes). Mutations never touch the store directly — they return what
// the provider reported and emit a hint so the sync orchestrator pulls the
// result on its next cycle, per the spec's "mutations never write the
// store directly" rule.
package mutation

import (
	"context"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-imap/v2"

	"github.com/jamiequint/groundeffect/internal/caldavclient"
	"github.com/jamiequint/groundeffect/internal/calparse"
	"github.com/jamiequint/groundeffect/internal/models"
)

// FlagMutator is the subset of imapclient.Client a mail mutation needs.
type FlagMutator interface {
	Move(ctx context.Context, mailbox string, uid uint32, destMailbox string) error
	SetFlags(ctx context.Context, mailbox string, uid uint32, flags []imap.Flag, add bool) error
	Delete(ctx context.Context, mailbox string, uid uint32) error
	TrashMailbox(ctx context.Context) (string, error)
}

// EventMutator is the subset of caldavclient.Client an event mutation needs.
type EventMutator interface {
	PutEvent(ctx context.Context, path, etag string, cal *ical.Calendar) (*caldavclient.EventObject, error)
	DeleteEvent(ctx context.Context, path, etag string) error
}

// MailSender submits a fully-built RFC 5322 message for delivery.
type MailSender interface {
	Send(ctx context.Context, from string, to []string, raw []byte) error
}

// Hint tells the orchestrator where to look for the effect of a mutation it
// just issued, so the change surfaces in search results without waiting for
// the next scheduled poll.
type Hint struct {
	AccountID    string
	Folder       string
	CalendarPath string
}

// Router dispatches mutations to per-account provider clients. Factories
// rather than a fixed map, mirroring internal/sync's Orchestrator, so a
// Router reuses whatever connection the orchestrator already holds open.
type Router struct {
	mail   func(accountID string) FlagMutator
	cal    func(accountID string) EventMutator
	sender func(accountID string) MailSender
	hints  chan<- Hint
}

// New constructs a Router. hints may be nil if the caller doesn't want
// post-mutation resync hints (e.g. in tests).
func New(
	mail func(accountID string) FlagMutator,
	cal func(accountID string) EventMutator,
	sender func(accountID string) MailSender,
	hints chan<- Hint,
) *Router {
	return &Router{mail: mail, cal: cal, sender: sender, hints: hints}
}

func (r *Router) emitHint(h Hint) {
	if r.hints == nil {
		return
	}
	select {
	case r.hints <- h:
	default:
	}
}

// MarkRead sets or clears \Seen on one message.
func (r *Router) MarkRead(ctx context.Context, accountID, folder string, uid uint32, read bool) error {
	err := r.mail(accountID).SetFlags(ctx, folder, uid, []imap.Flag{imap.FlagSeen}, read)
	if err != nil {
		return err
	}
	r.emitHint(Hint{AccountID: accountID, Folder: folder})
	return nil
}

// Archive moves a message out of its current folder into the account's
// archive mailbox (conventionally "Archive" or "[Gmail]/All Mail").
func (r *Router) Archive(ctx context.Context, accountID, folder string, uid uint32, archiveMailbox string) error {
	if err := r.mail(accountID).Move(ctx, folder, uid, archiveMailbox); err != nil {
		return err
	}
	r.emitHint(Hint{AccountID: accountID, Folder: archiveMailbox})
	return nil
}

// MoveMail moves a message to an arbitrary destination mailbox.
func (r *Router) MoveMail(ctx context.Context, accountID, folder string, uid uint32, destMailbox string) error {
	if err := r.mail(accountID).Move(ctx, folder, uid, destMailbox); err != nil {
		return err
	}
	r.emitHint(Hint{AccountID: accountID, Folder: destMailbox})
	return nil
}

// DeleteMail moves a message to Trash, or permanently deletes it if it is
// already there.
func (r *Router) DeleteMail(ctx context.Context, accountID, folder string, uid uint32) error {
	client := r.mail(accountID)
	trash, err := client.TrashMailbox(ctx)
	if err != nil {
		return err
	}
	if folder == trash {
		if err := client.Delete(ctx, folder, uid); err != nil {
			return err
		}
		r.emitHint(Hint{AccountID: accountID, Folder: folder})
		return nil
	}
	if err := client.Move(ctx, folder, uid, trash); err != nil {
		return err
	}
	r.emitHint(Hint{AccountID: accountID, Folder: trash})
	return nil
}

// CreateEvent PUTs a new VEVENT with an If-None-Match precondition (empty
// etag), returning the server-assigned etag.
func (r *Router) CreateEvent(ctx context.Context, accountID, calendarPath, path string, cal *ical.Calendar) (models.CalendarItem, error) {
	obj, err := r.cal(accountID).PutEvent(ctx, path, "", cal)
	if err != nil {
		return models.CalendarItem{}, err
	}
	r.emitHint(Hint{AccountID: accountID, CalendarPath: calendarPath})
	return calendarItemFromObject(accountID, calendarPath, obj), nil
}

// UpdateEvent PUTs a modified VEVENT with an If-Match precondition on the
// caller-supplied etag, so a concurrent provider-side edit is rejected
// rather than silently overwritten.
func (r *Router) UpdateEvent(ctx context.Context, accountID, calendarPath, path, etag string, cal *ical.Calendar) (models.CalendarItem, error) {
	obj, err := r.cal(accountID).PutEvent(ctx, path, etag, cal)
	if err != nil {
		return models.CalendarItem{}, err
	}
	r.emitHint(Hint{AccountID: accountID, CalendarPath: calendarPath})
	return calendarItemFromObject(accountID, calendarPath, obj), nil
}

// DeleteEvent issues a DELETE with an If-Match precondition.
func (r *Router) DeleteEvent(ctx context.Context, accountID, calendarPath, path, etag string) error {
	if err := r.cal(accountID).DeleteEvent(ctx, path, etag); err != nil {
		return err
	}
	r.emitHint(Hint{AccountID: accountID, CalendarPath: calendarPath})
	return nil
}

// calendarItemFromObject reuses calparse's VEVENT field extraction so a
// mutation's return value carries the same parsed shape a sync pass would
// have produced for the same object.
func calendarItemFromObject(accountID, calendarPath string, obj *caldavclient.EventObject) models.CalendarItem {
	item, err := calparse.Parse(accountID, calendarPath, *obj)
	if err != nil {
		return models.CalendarItem{AccountID: accountID, CalendarID: calendarPath, ETag: obj.ETag}
	}
	return item
}

// SendMailRequest describes a message to submit. ReplyToMessageID, when
// set, threads the new message under the named parent and prefixes Subject
// with "Re: " if it isn't already.
type SendMailRequest struct {
	From             string
	To               []string
	Cc               []string
	Subject          string
	Body             string
	ReplyToMessageID string
	References       []string
}

// SendMail builds an RFC 5322 message and submits it, returning the raw
// bytes sent (the caller's log/audit trail — the provider-assigned message
// id is not known until sync observes the resulting Sent-folder copy).
func (r *Router) SendMail(ctx context.Context, req SendMailRequest) ([]byte, error) {
	raw := BuildRFC5322(req)
	if err := r.sender(req.From).Send(ctx, req.From, append(append([]string{}, req.To...), req.Cc...), raw); err != nil {
		return nil, err
	}
	r.emitHint(Hint{AccountID: req.From, Folder: "Sent"})
	return raw, nil
}

// Preview renders what SendMail would submit without contacting the
// provider, for the query server's unconfirmed-mutation mode.
func (r *Router) Preview(req SendMailRequest) []byte {
	return BuildRFC5322(req)
}
