package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiequint/groundeffect/internal/caldavclient"
	"github.com/jamiequint/groundeffect/internal/embedder"
	"github.com/jamiequint/groundeffect/internal/imapclient"
	"github.com/jamiequint/groundeffect/internal/ingest"
	"github.com/jamiequint/groundeffect/internal/models"
	"github.com/jamiequint/groundeffect/internal/ratelimit"
	"github.com/jamiequint/groundeffect/internal/store"
)

type fakeMail struct {
	mailboxes []imapclient.Mailbox
	uids      []uint32
	bodies    map[uint32]imapclient.RawMessage
}

func (f *fakeMail) Connect(ctx context.Context) error { return nil }
func (f *fakeMail) ListMailboxes(ctx context.Context) ([]imapclient.Mailbox, error) {
	return f.mailboxes, nil
}
func (f *fakeMail) Select(ctx context.Context, mailbox string) (uint32, error) { return 1, nil }
func (f *fakeMail) SearchSince(ctx context.Context, mailbox string, since time.Time) ([]uint32, error) {
	return f.uids, nil
}
func (f *fakeMail) SearchUnread(ctx context.Context, mailbox string) ([]uint32, error) {
	return nil, nil
}
func (f *fakeMail) FetchEnvelopes(ctx context.Context, mailbox string, uids []uint32) ([]imapclient.Envelope, error) {
	return nil, nil
}
func (f *fakeMail) FetchBodiesBatch(ctx context.Context, mailbox string, uids []uint32) ([]imapclient.RawMessage, error) {
	out := make([]imapclient.RawMessage, 0, len(uids))
	for _, uid := range uids {
		if raw, ok := f.bodies[uid]; ok {
			out = append(out, raw)
		}
	}
	return out, nil
}
func (f *fakeMail) Idle(ctx context.Context, mailbox string, ch chan<- imapclient.IdleEvent) error {
	<-ctx.Done()
	return ctx.Err()
}
func (f *fakeMail) Close(ctx context.Context) error { return nil }

type fakeCalendar struct{}

func (f *fakeCalendar) ListCalendars(ctx context.Context) ([]caldavclient.Calendar, error) {
	return nil, nil
}
func (f *fakeCalendar) SyncDelta(ctx context.Context, calendarPath, syncToken string) (*caldavclient.DeltaResult, error) {
	return &caldavclient.DeltaResult{}, nil
}

type fakeModel struct{}

func (fakeModel) Embed(ctx context.Context, texts []string, taskType embedder.TaskType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, models.EmbeddingDimension)
	}
	return out, nil
}

func newTestOrchestrator(t *testing.T, mail MailSource) (*Orchestrator, *store.Writer, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "groundeffect.db")
	writer, err := store.NewWriter(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })

	poison, err := OpenPoisonSet(filepath.Join(t.TempDir(), "poison.db"))
	require.NoError(t, err)
	t.Cleanup(func() { poison.Close() })

	pipeline := ingest.New(writer, fakeModel{})
	limiter := ratelimit.New(ratelimit.DefaultConfig())

	parseMsg := func(accountID, folder string, raw imapclient.RawMessage) (models.MailItem, error) {
		return models.MailItem{
			AccountID: accountID, Folder: folder, UID: raw.UID, UIDValidity: raw.UIDValidity,
			Subject: "test", BodyText: string(raw.RFC822), SyncedAt: time.Now(),
		}, nil
	}
	parseEvt := func(accountID, calendarID string, obj caldavclient.EventObject) (models.CalendarItem, error) {
		return models.CalendarItem{AccountID: accountID, CalendarID: calendarID, UID: obj.Path, SyncedAt: time.Now()}, nil
	}

	o := New(writer, pipeline, limiter, poison, parseMsg, parseEvt,
		func(accountID string) MailSource { return mail },
		func(accountID string) CalendarSource { return &fakeCalendar{} },
		nil, "",
	)
	return o, writer, dbPath
}

func TestPrimeAccountIngestsFetchedMessages(t *testing.T) {
	mail := &fakeMail{
		mailboxes: []imapclient.Mailbox{{Name: "INBOX", UIDValidity: 1}},
		uids:      []uint32{1, 2},
		bodies: map[uint32]imapclient.RawMessage{
			1: {Envelope: imapclient.Envelope{UID: 1, UIDValidity: 1}, RFC822: []byte("hello")},
			2: {Envelope: imapclient.Envelope{UID: 2, UIDValidity: 1}, RFC822: []byte("world")},
		},
	}
	o, writer, dbPath := newTestOrchestrator(t, mail)
	account := models.Account{Email: "alice@example.com"}
	require.NoError(t, writer.UpsertAccount(models.Account{Email: "alice@example.com", AddedAt: time.Now()}))

	require.NoError(t, o.primeAccount(context.Background(), account))

	reader, err := store.NewReader(dbPath)
	require.NoError(t, err)
	defer reader.Close()

	folders, err := reader.ListFolders("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX"}, folders)
}

func TestNextBackoffDoublesUpToMax(t *testing.T) {
	d := time.Second
	for i := 0; i < 10; i++ {
		d = nextBackoff(d)
	}
	assert.Equal(t, degradedMaxBackoff, d)
}

func TestMergeUIDsDeduplicates(t *testing.T) {
	got := mergeUIDs([]uint32{1, 2, 3}, []uint32{2, 3, 4})
	assert.Equal(t, []uint32{1, 2, 3, 4}, got)
}
