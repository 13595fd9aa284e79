package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiequint/groundeffect/internal/models"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groundeffect.db")
	w, err := NewWriter(path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestUpsertAccountRoundTrips(t *testing.T) {
	w := newTestWriter(t)
	acct := models.Account{
		Email:            "alice@example.com",
		Status:           models.AccountActive,
		AddedAt:          time.Now().UTC().Truncate(time.Second),
		EmailSyncEnabled: true,
		FolderAllowlist:  []string{"INBOX", "Sent"},
	}
	require.NoError(t, w.UpsertAccount(acct))

	r, err := NewReader(w.path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.GetAccount("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "Sent"}, got.FolderAllowlist)
	assert.True(t, got.EmailSyncEnabled)
}

func TestGetAccountMissingReturnsNotFound(t *testing.T) {
	w := newTestWriter(t)
	r, err := NewReader(w.path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.GetAccount("nobody@example.com")
	require.Error(t, err)
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
}

func TestUpsertMailItemThenSearchKeyword(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.UpsertAccount(models.Account{Email: "alice@example.com", AddedAt: time.Now()}))

	m := models.MailItem{
		AccountID:   "alice@example.com",
		Folder:      "INBOX",
		UID:         1,
		UIDValidity: 100,
		From:        models.Address{Email: "bob@example.com"},
		Subject:     "Quarterly roadmap review",
		BodyText:    "Let's discuss the roadmap for next quarter.",
		Date:        time.Now(),
		SyncedAt:    time.Now(),
	}
	id, err := w.UpsertMailItem(m)
	require.NoError(t, err)
	assert.NotZero(t, id)

	r, err := NewReader(w.path)
	require.NoError(t, err)
	defer r.Close()

	results, err := r.SearchKeywordMail("roadmap", MailFilter{AccountID: "alice@example.com"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Quarterly roadmap review", results[0].Item.Subject)
}

func TestUpsertMailItemIsIdempotentOnCompositeKey(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.UpsertAccount(models.Account{Email: "alice@example.com", AddedAt: time.Now()}))
	m := models.MailItem{
		AccountID: "alice@example.com", Folder: "INBOX", UID: 1, UIDValidity: 100,
		Subject: "v1", BodyText: "first version", SyncedAt: time.Now(),
	}
	id1, err := w.UpsertMailItem(m)
	require.NoError(t, err)

	m.Subject = "v2"
	m.BodyText = "second version"
	id2, err := w.UpsertMailItem(m)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	r, err := NewReader(w.path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.GetMailItem(id1)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Subject)
}

func TestInvalidateFolderUIDsRemovesItems(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.UpsertAccount(models.Account{Email: "alice@example.com", AddedAt: time.Now()}))
	m := models.MailItem{
		AccountID: "alice@example.com", Folder: "INBOX", UID: 1, UIDValidity: 100,
		Subject: "stale", SyncedAt: time.Now(),
	}
	id, err := w.UpsertMailItem(m)
	require.NoError(t, err)

	require.NoError(t, w.InvalidateFolderUIDs("alice@example.com", "INBOX"))

	r, err := NewReader(w.path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.GetMailItem(id)
	require.Error(t, err)
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
}

func TestGenerationIncrementsOnWrite(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.UpsertAccount(models.Account{Email: "a", AddedAt: time.Now()}))
	gen0, err := w.Generation()
	require.NoError(t, err)

	_, err = w.UpsertMailItem(models.MailItem{AccountID: "a", Folder: "INBOX", UID: 1, UIDValidity: 1, SyncedAt: time.Now()})
	require.NoError(t, err)

	gen1, err := w.Generation()
	require.NoError(t, err)
	assert.Greater(t, gen1, gen0)
}

func TestUpsertCalendarItemThenSearchKeyword(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.UpsertAccount(models.Account{Email: "alice@example.com", AddedAt: time.Now()}))
	c := models.CalendarItem{
		AccountID:  "alice@example.com",
		CalendarID: "primary",
		UID:        "event-1",
		Summary:    "Board meeting",
		Start:      time.Now(),
		End:        time.Now().Add(time.Hour),
		Status:     models.EventConfirmed,
		SyncedAt:   time.Now(),
	}
	_, err := w.UpsertCalendarItem(c)
	require.NoError(t, err)

	r, err := NewReader(w.path)
	require.NoError(t, err)
	defer r.Close()

	results, err := r.SearchKeywordCalendar("board", CalendarFilter{AccountID: "alice@example.com"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Board meeting", results[0].Item.Summary)
}

func TestPendingMailEmbeddingsListsUnembeddedItems(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.UpsertAccount(models.Account{Email: "a", AddedAt: time.Now()}))
	id, err := w.UpsertMailItem(models.MailItem{
		AccountID: "a", Folder: "INBOX", UID: 1, UIDValidity: 1,
		Subject: "hello", BodyText: "world", SyncedAt: time.Now(),
	})
	require.NoError(t, err)

	pending, err := w.PendingMailEmbeddings(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	vec := make([]float32, models.EmbeddingDimension)
	require.NoError(t, w.UpsertMailEmbedding(id, vec, "text-embedding-005"))

	pending, err = w.PendingMailEmbeddings(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
