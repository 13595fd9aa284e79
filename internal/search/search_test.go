package search

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

// fakeModel returns a fixed unit vector regardless of input, so vector
// search always ranks by whatever was stored rather than real similarity —
// sufficient to exercise the fusion and filter plumbing.
type fakeModel struct{}

func (fakeModel) Embed(ctx context.Context, texts []string, taskType embedder.TaskType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, models.EmbeddingDimension)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func newTestSearcher(t *testing.T) (*Searcher, *store.Writer) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "groundeffect.db")
	writer, err := store.NewWriter(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })
	require.NoError(t, writer.UpsertAccount(models.Account{Email: "alice@example.com", AddedAt: time.Now()}))

	reader, err := store.NewReader(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })

	return New(reader, fakeModel{}), writer
}

func seedMail(t *testing.T, w *store.Writer, accountID, subject, body string, date time.Time) int64 {
	t.Helper()
	id, err := w.UpsertMailItem(models.MailItem{
		AccountID: accountID,
		Folder:    "INBOX",
		UID:       uint32(date.Unix()),
		Subject:   subject,
		BodyText:  body,
		Date:      date,
		SyncedAt:  time.Now(),
	})
	require.NoError(t, err)
	vec := make([]float32, models.EmbeddingDimension)
	vec[0] = 1
	require.NoError(t, w.UpsertMailEmbedding(id, vec, "test-model"))
	return id
}

func TestSearchMailUnknownAliasIsValidationError(t *testing.T) {
	s, _ := newTestSearcher(t)
	_, err := s.SearchMail(context.Background(), "invoice", Filter{Accounts: []string{"nobody"}})
	require.Error(t, err)
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestSearchMailResolvesAliasToCanonicalAccount(t *testing.T) {
	s, w := newTestSearcher(t)
	require.NoError(t, w.UpsertAccount(models.Account{Email: "alice@example.com", Alias: "alice", Status: models.AccountActive}))
	seedMail(t, w, "alice@example.com", "invoice due", "please pay the invoice", time.Now())

	result, err := s.SearchMail(context.Background(), "invoice", Filter{Accounts: []string{"alice"}})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "invoice due", result.Hits[0].Item.Subject)
}

func TestSearchMailEmptyQueryOrdersByDateDescendingWithZeroScore(t *testing.T) {
	s, w := newTestSearcher(t)
	older := seedMail(t, w, "alice@example.com", "older", "body", time.Now().Add(-48*time.Hour))
	newer := seedMail(t, w, "alice@example.com", "newer", "body", time.Now())

	result, err := s.SearchMail(context.Background(), "", Filter{})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, newer, result.Hits[0].Item.ID)
	assert.Equal(t, older, result.Hits[1].Item.ID)
	assert.Zero(t, result.Hits[0].Score)
}

func TestSearchMailFusesKeywordAndVectorHitsByID(t *testing.T) {
	s, w := newTestSearcher(t)
	id := seedMail(t, w, "alice@example.com", "invoice due", "please pay the invoice now", time.Now())

	result, err := s.SearchMail(context.Background(), "invoice", Filter{})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, id, result.Hits[0].Item.ID)
	assert.Greater(t, result.Hits[0].Score, 0.0)
}

func TestSearchMailRespectsLimit(t *testing.T) {
	s, w := newTestSearcher(t)
	for i := 0; i < 5; i++ {
		seedMail(t, w, "alice@example.com", "invoice", "invoice body", time.Now().Add(time.Duration(i)*time.Hour))
	}

	result, err := s.SearchMail(context.Background(), "invoice", Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, result.Hits, 2)
}

func TestFuseMailRRFOrdersUnionByScoreThenID(t *testing.T) {
	keyword := []store.RankedMailItem{
		{Item: models.MailItem{ID: 1}},
		{Item: models.MailItem{ID: 2}},
	}
	vector := []store.RankedMailItem{
		{Item: models.MailItem{ID: 2}},
		{Item: models.MailItem{ID: 3}},
	}
	fused := fuseMail(keyword, vector)
	require.Len(t, fused, 3)
	// id 2 appears in both lists so it must outrank ids that appear once.
	assert.Equal(t, int64(2), fused[0].id)
}
