package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiequint/groundeffect/internal/embedder"
	"github.com/jamiequint/groundeffect/internal/models"
	"github.com/jamiequint/groundeffect/internal/store"
)

type fakeModel struct {
	calls int
}

func (f *fakeModel) Embed(ctx context.Context, texts []string, taskType embedder.TaskType) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, models.EmbeddingDimension)
	}
	return out, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groundeffect.db")
	w, err := store.NewWriter(path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	require.NoError(t, w.UpsertAccount(models.Account{Email: "alice@example.com", AddedAt: time.Now()}))
	return New(w, &fakeModel{}), w, path
}

func TestIngestMailExtractsSnippetFromHTML(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	id, err := p.IngestMail(context.Background(), models.MailItem{
		AccountID:   "alice@example.com",
		Folder:      "INBOX",
		UID:         1,
		UIDValidity: 1,
		BodyHTML:    "<p>Hello <b>world</b></p>",
		MessageID:   "<msg1@example.com>",
		SyncedAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestIngestMailInheritsThreadIDFromInReplyTo(t *testing.T) {
	p, _, path := newTestPipeline(t)
	ctx := context.Background()

	id1, err := p.IngestMail(ctx, models.MailItem{
		AccountID: "alice@example.com", Folder: "INBOX", UID: 1, UIDValidity: 1,
		MessageID: "<first@example.com>", BodyText: "first message", SyncedAt: time.Now(),
	})
	require.NoError(t, err)

	id2, err := p.IngestMail(ctx, models.MailItem{
		AccountID: "alice@example.com", Folder: "INBOX", UID: 2, UIDValidity: 1,
		MessageID: "<second@example.com>", InReplyTo: "<first@example.com>",
		BodyText: "reply", SyncedAt: time.Now(),
	})
	require.NoError(t, err)

	r, err := store.NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	first, err := r.GetMailItem(id1)
	require.NoError(t, err)
	second, err := r.GetMailItem(id2)
	require.NoError(t, err)
	assert.Equal(t, first.ProviderThreadID, second.ProviderThreadID)
}

func TestEmbedPendingEmbedsQueuedMailItems(t *testing.T) {
	p, w, _ := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.IngestMail(ctx, models.MailItem{
		AccountID: "alice@example.com", Folder: "INBOX", UID: 1, UIDValidity: 1,
		Subject: "hello", BodyText: "world", SyncedAt: time.Now(),
	})
	require.NoError(t, err)

	mailCount, calCount, err := p.EmbedPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mailCount)
	assert.Equal(t, 0, calCount)

	pending, err := w.PendingMailEmbeddings(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
