package mutation

import (
	"context"
	"strings"
	"testing"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiequint/groundeffect/internal/caldavclient"
)

type fakeFlagMutator struct {
	trash      string
	moved      []string
	flagsSet   []imap.Flag
	flagAdd    bool
	deletedUID uint32
	deleted    bool
}

func (f *fakeFlagMutator) Move(ctx context.Context, mailbox string, uid uint32, destMailbox string) error {
	f.moved = append(f.moved, mailbox+"->"+destMailbox)
	return nil
}

func (f *fakeFlagMutator) SetFlags(ctx context.Context, mailbox string, uid uint32, flags []imap.Flag, add bool) error {
	f.flagsSet = flags
	f.flagAdd = add
	return nil
}

func (f *fakeFlagMutator) Delete(ctx context.Context, mailbox string, uid uint32) error {
	f.deleted = true
	f.deletedUID = uid
	return nil
}

func (f *fakeFlagMutator) TrashMailbox(ctx context.Context) (string, error) {
	return f.trash, nil
}

type fakeEventMutator struct {
	lastPath, lastEtag string
	deletedPath        string
	deletedEtag        string
}

func (f *fakeEventMutator) PutEvent(ctx context.Context, path, etag string, cal *ical.Calendar) (*caldavclient.EventObject, error) {
	f.lastPath, f.lastEtag = path, etag
	return &caldavclient.EventObject{Path: path, ETag: "etag-1"}, nil
}

func (f *fakeEventMutator) DeleteEvent(ctx context.Context, path, etag string) error {
	f.deletedPath, f.deletedEtag = path, etag
	return nil
}

type fakeSender struct {
	from string
	to   []string
	raw  []byte
}

func (f *fakeSender) Send(ctx context.Context, from string, to []string, raw []byte) error {
	f.from, f.to, f.raw = from, to, raw
	return nil
}

func newTestRouter(flag *fakeFlagMutator, evt *fakeEventMutator, sender *fakeSender, hints chan Hint) *Router {
	var hintsOut chan<- Hint
	if hints != nil {
		hintsOut = hints
	}
	return New(
		func(accountID string) FlagMutator { return flag },
		func(accountID string) EventMutator { return evt },
		func(accountID string) MailSender { return sender },
		hintsOut,
	)
}

func TestMarkReadSetsSeenFlag(t *testing.T) {
	flag := &fakeFlagMutator{}
	hints := make(chan Hint, 1)
	r := newTestRouter(flag, nil, nil, hints)

	err := r.MarkRead(context.Background(), "alice", "INBOX", 42, true)
	require.NoError(t, err)
	assert.Equal(t, []imap.Flag{imap.FlagSeen}, flag.flagsSet)
	assert.True(t, flag.flagAdd)

	hint := <-hints
	assert.Equal(t, Hint{AccountID: "alice", Folder: "INBOX"}, hint)
}

func TestArchiveMovesToArchiveMailbox(t *testing.T) {
	flag := &fakeFlagMutator{}
	r := newTestRouter(flag, nil, nil, nil)

	err := r.Archive(context.Background(), "alice", "INBOX", 1, "Archive")
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX->Archive"}, flag.moved)
}

func TestDeleteMailMovesToTrashWhenNotAlreadyThere(t *testing.T) {
	flag := &fakeFlagMutator{trash: "Trash"}
	r := newTestRouter(flag, nil, nil, nil)

	err := r.DeleteMail(context.Background(), "alice", "INBOX", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX->Trash"}, flag.moved)
	assert.False(t, flag.deleted)
}

func TestDeleteMailPermanentlyDeletesWhenAlreadyInTrash(t *testing.T) {
	flag := &fakeFlagMutator{trash: "Trash"}
	r := newTestRouter(flag, nil, nil, nil)

	err := r.DeleteMail(context.Background(), "alice", "Trash", 7)
	require.NoError(t, err)
	assert.Nil(t, flag.moved)
	assert.True(t, flag.deleted)
	assert.Equal(t, uint32(7), flag.deletedUID)
}

func TestCreateEventUsesEmptyEtagForIfNoneMatch(t *testing.T) {
	evt := &fakeEventMutator{}
	hints := make(chan Hint, 1)
	r := newTestRouter(nil, evt, nil, hints)

	item, err := r.CreateEvent(context.Background(), "alice", "personal", "events/1.ics", &ical.Calendar{})
	require.NoError(t, err)
	assert.Equal(t, "", evt.lastEtag)
	assert.Equal(t, "etag-1", item.ETag)

	hint := <-hints
	assert.Equal(t, Hint{AccountID: "alice", CalendarPath: "personal"}, hint)
}

func TestUpdateEventPassesCallerEtagForIfMatch(t *testing.T) {
	evt := &fakeEventMutator{}
	r := newTestRouter(nil, evt, nil, nil)

	_, err := r.UpdateEvent(context.Background(), "alice", "personal", "events/1.ics", "etag-old", &ical.Calendar{})
	require.NoError(t, err)
	assert.Equal(t, "etag-old", evt.lastEtag)
}

func TestDeleteEventPassesEtag(t *testing.T) {
	evt := &fakeEventMutator{}
	r := newTestRouter(nil, evt, nil, nil)

	err := r.DeleteEvent(context.Background(), "alice", "personal", "events/1.ics", "etag-old")
	require.NoError(t, err)
	assert.Equal(t, "events/1.ics", evt.deletedPath)
	assert.Equal(t, "etag-old", evt.deletedEtag)
}

func TestSendMailBuildsMessageAndEmitsSentHint(t *testing.T) {
	sender := &fakeSender{}
	hints := make(chan Hint, 1)
	r := newTestRouter(nil, nil, sender, hints)

	raw, err := r.SendMail(context.Background(), SendMailRequest{
		From:    "alice@example.com",
		To:      []string{"bob@example.com"},
		Subject: "hello",
		Body:    "hi there",
	})
	require.NoError(t, err)
	assert.Equal(t, raw, sender.raw)
	assert.Contains(t, string(raw), "Subject: hello")
	assert.Equal(t, "alice@example.com", sender.from)
	assert.Equal(t, []string{"bob@example.com"}, sender.to)

	hint := <-hints
	assert.Equal(t, Hint{AccountID: "alice@example.com", Folder: "Sent"}, hint)
}

func TestSendMailPrefixesReplySubject(t *testing.T) {
	sender := &fakeSender{}
	r := newTestRouter(nil, nil, sender, nil)

	_, err := r.SendMail(context.Background(), SendMailRequest{
		From:             "alice@example.com",
		To:               []string{"bob@example.com"},
		Subject:          "hello",
		Body:             "hi there",
		ReplyToMessageID: "<root@example.com>",
		References:       []string{"<earlier@example.com>"},
	})
	require.NoError(t, err)
	raw := string(sender.raw)
	assert.Contains(t, raw, "Subject: Re: hello")
	assert.Contains(t, raw, "In-Reply-To: <root@example.com>\r\n")
	assert.Contains(t, raw, "References: <earlier@example.com> <root@example.com>\r\n")
}

func TestPreviewDoesNotCallSender(t *testing.T) {
	sender := &fakeSender{}
	r := newTestRouter(nil, nil, sender, nil)

	raw := r.Preview(SendMailRequest{From: "alice@example.com", To: []string{"bob@example.com"}, Subject: "draft", Body: "body"})
	assert.True(t, strings.Contains(string(raw), "Subject: draft"))
	assert.Nil(t, sender.raw)
}
