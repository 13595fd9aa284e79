package store

import (
	"database/sql"
	"time"

	"github.com/jamiequint/groundeffect/internal/models"
)

// Writer is the single-process handle that mutates the database. Every
// method commits its own statement or transaction. Mail and calendar item
// upserts and deletes also bump the manifest generation; account, status,
// sync-timestamp and embedding writes do not.
type Writer struct {
	*Store
}

// NewWriter opens path read-write through a single connection. It takes no
// lock that keeps another writer process from opening the same file.
func NewWriter(path string) (*Writer, error) {
	s, err := Open(path, true)
	if err != nil {
		return nil, err
	}
	return &Writer{Store: s}, nil
}

// UpsertAccount inserts or replaces an account row keyed by email.
func (w *Writer) UpsertAccount(a models.Account) error {
	allowlist, err := marshalJSON(a.FolderAllowlist)
	if err != nil {
		return err
	}
	_, err = w.db.Exec(`
		INSERT INTO accounts (email, alias, display_name, status, added_at, last_email_sync,
			last_calendar_sync, email_sync_enabled, calendar_sync_enabled, folder_allowlist, download_attachments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			alias = excluded.alias,
			display_name = excluded.display_name,
			status = excluded.status,
			last_email_sync = excluded.last_email_sync,
			last_calendar_sync = excluded.last_calendar_sync,
			email_sync_enabled = excluded.email_sync_enabled,
			calendar_sync_enabled = excluded.calendar_sync_enabled,
			folder_allowlist = excluded.folder_allowlist,
			download_attachments = excluded.download_attachments
	`, a.Email, a.Alias, a.DisplayName, string(a.Status), a.AddedAt, nullTime(a.LastEmailSync),
		nullTime(a.LastCalendarSync), a.EmailSyncEnabled, a.CalendarSyncEnabled, allowlist, a.DownloadAttachments)
	if err != nil {
		return models.Fatal("upsert account", err)
	}
	return nil
}

// SetAccountStatus updates just the status column, used when a refresh
// token is revoked or restored.
func (w *Writer) SetAccountStatus(email string, status models.AccountStatus) error {
	res, err := w.db.Exec(`UPDATE accounts SET status = ? WHERE email = ?`, string(status), email)
	if err != nil {
		return models.Fatal("set account status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.NotFound("account not found", nil)
	}
	return nil
}

// TouchEmailSync records the time of the most recent successful mail sync.
func (w *Writer) TouchEmailSync(email string, at time.Time) error {
	_, err := w.db.Exec(`UPDATE accounts SET last_email_sync = ? WHERE email = ?`, at, email)
	if err != nil {
		return models.Fatal("touch email sync", err)
	}
	return nil
}

// TouchCalendarSync records the time of the most recent successful calendar sync.
func (w *Writer) TouchCalendarSync(email string, at time.Time) error {
	_, err := w.db.Exec(`UPDATE accounts SET last_calendar_sync = ? WHERE email = ?`, at, email)
	if err != nil {
		return models.Fatal("touch calendar sync", err)
	}
	return nil
}

// UpsertMailItem inserts a new mail item or updates the existing row for the
// same (account, folder, uid, uid_validity) triple, marking it for
// re-embedding whenever its text content changed. It returns the row id.
func (w *Writer) UpsertMailItem(m models.MailItem) (int64, error) {
	tx, err := w.db.Begin()
	if err != nil {
		return 0, models.Fatal("begin tx", err)
	}
	defer tx.Rollback()

	id, err := upsertMailItemTx(tx, m)
	if err != nil {
		return 0, err
	}
	if err := bumpGeneration(tx); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, models.Fatal("commit mail upsert", err)
	}
	return id, nil
}

func upsertMailItemTx(tx *sql.Tx, m models.MailItem) (int64, error) {
	refs, err := marshalJSON(m.References)
	if err != nil {
		return 0, err
	}
	labels, err := marshalJSON(m.Labels)
	if err != nil {
		return 0, err
	}
	flags, err := marshalJSON(m.Flags)
	if err != nil {
		return 0, err
	}
	to, err := marshalJSON(m.To)
	if err != nil {
		return 0, err
	}
	cc, err := marshalJSON(m.Cc)
	if err != nil {
		return 0, err
	}
	bcc, err := marshalJSON(m.Bcc)
	if err != nil {
		return 0, err
	}
	attachments, err := marshalJSON(m.Attachments)
	if err != nil {
		return 0, err
	}

	var existingID int64
	var existingSubject, existingBody string
	err = tx.QueryRow(`SELECT id, subject, body_text FROM mail_items WHERE account_id = ? AND folder = ? AND uid = ? AND uid_validity = ?`,
		m.AccountID, m.Folder, m.UID, m.UIDValidity).Scan(&existingID, &existingSubject, &existingBody)

	switch {
	case err == sql.ErrNoRows:
		needsReembed := true
		res, err := tx.Exec(`
			INSERT INTO mail_items (account_id, provider_msg_id, provider_thread_id, message_id, folder, uid,
				uid_validity, in_reply_to, references_json, labels_json, flags_json, from_name, from_email,
				to_json, cc_json, bcc_json, subject, date, body_text, body_html, snippet, attachments_json,
				needs_reembed, synced_at, raw_size)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.AccountID, m.ProviderMsgID, m.ProviderThreadID, m.MessageID, m.Folder, m.UID, m.UIDValidity,
			m.InReplyTo, refs, labels, flags, m.From.Name, m.From.Email, to, cc, bcc, m.Subject, nullTime(m.Date),
			m.BodyText, m.BodyHTML, m.Snippet, attachments, needsReembed, m.SyncedAt, m.RawSize)
		if err != nil {
			return 0, models.Fatal("insert mail item", err)
		}
		return res.LastInsertId()

	case err != nil:
		return 0, models.Fatal("query existing mail item", err)

	default:
		needsReembed := existingSubject != m.Subject || existingBody != m.BodyText
		_, err := tx.Exec(`
			UPDATE mail_items SET
				provider_msg_id = ?, provider_thread_id = ?, message_id = ?, in_reply_to = ?,
				references_json = ?, labels_json = ?, flags_json = ?, from_name = ?, from_email = ?,
				to_json = ?, cc_json = ?, bcc_json = ?, subject = ?, date = ?, body_text = ?, body_html = ?,
				snippet = ?, attachments_json = ?, needs_reembed = needs_reembed OR ?, synced_at = ?, raw_size = ?
			WHERE id = ?
		`, m.ProviderMsgID, m.ProviderThreadID, m.MessageID, m.InReplyTo, refs, labels, flags, m.From.Name,
			m.From.Email, to, cc, bcc, m.Subject, nullTime(m.Date), m.BodyText, m.BodyHTML, m.Snippet,
			attachments, needsReembed, m.SyncedAt, m.RawSize, existingID)
		if err != nil {
			return 0, models.Fatal("update mail item", err)
		}
		return existingID, nil
	}
}

// DeleteMailItem removes a mail item; its FTS row is removed by trigger and
// its vector row is deleted explicitly in the same transaction.
func (w *Writer) DeleteMailItem(id int64) error {
	tx, err := w.db.Begin()
	if err != nil {
		return models.Fatal("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM mail_embeddings WHERE mail_item_id = ?`, id); err != nil {
		return models.Fatal("delete mail embedding", err)
	}
	if _, err := tx.Exec(`DELETE FROM mail_items WHERE id = ?`, id); err != nil {
		return models.Fatal("delete mail item", err)
	}
	if err := bumpGeneration(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// InvalidateFolderUIDs deletes every mail item in a folder when the server
// reports a new UIDVALIDITY, since the old UIDs no longer mean anything.
func (w *Writer) InvalidateFolderUIDs(accountID, folder string) error {
	tx, err := w.db.Begin()
	if err != nil {
		return models.Fatal("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM mail_embeddings WHERE mail_item_id IN (
			SELECT id FROM mail_items WHERE account_id = ? AND folder = ?
		)`, accountID, folder); err != nil {
		return models.Fatal("delete stale embeddings", err)
	}
	if _, err := tx.Exec(`DELETE FROM mail_items WHERE account_id = ? AND folder = ?`, accountID, folder); err != nil {
		return models.Fatal("delete stale mail items", err)
	}
	if err := bumpGeneration(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertMailEmbedding stores a mail item's embedding vector, replacing any
// prior vector, and clears its needs_reembed flag.
func (w *Writer) UpsertMailEmbedding(mailItemID int64, embedding []float32, model string) error {
	vec, err := serializeEmbedding(embedding)
	if err != nil {
		return err
	}
	tx, err := w.db.Begin()
	if err != nil {
		return models.Fatal("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM mail_embeddings WHERE mail_item_id = ?`, mailItemID); err != nil {
		return models.Fatal("clear mail embedding", err)
	}
	if _, err := tx.Exec(`INSERT INTO mail_embeddings (mail_item_id, embedding) VALUES (?, ?)`, mailItemID, vec); err != nil {
		return models.Fatal("insert mail embedding", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO mail_embedding_meta (mail_item_id, model) VALUES (?, ?)
		ON CONFLICT(mail_item_id) DO UPDATE SET model = excluded.model, created_at = CURRENT_TIMESTAMP
	`, mailItemID, model); err != nil {
		return models.Fatal("upsert mail embedding meta", err)
	}
	if _, err := tx.Exec(`UPDATE mail_items SET needs_reembed = 0 WHERE id = ?`, mailItemID); err != nil {
		return models.Fatal("clear needs_reembed", err)
	}
	return tx.Commit()
}

// UpsertCalendarItem inserts a new calendar item or updates the existing row
// keyed by (account, calendar, uid).
func (w *Writer) UpsertCalendarItem(c models.CalendarItem) (int64, error) {
	tx, err := w.db.Begin()
	if err != nil {
		return 0, models.Fatal("begin tx", err)
	}
	defer tx.Rollback()

	id, err := upsertCalendarItemTx(tx, c)
	if err != nil {
		return 0, err
	}
	if err := bumpGeneration(tx); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, models.Fatal("commit calendar upsert", err)
	}
	return id, nil
}

func upsertCalendarItemTx(tx *sql.Tx, c models.CalendarItem) (int64, error) {
	organizer, err := marshalJSON(c.Organizer)
	if err != nil {
		return 0, err
	}
	attendees, err := marshalJSON(c.Attendees)
	if err != nil {
		return 0, err
	}
	reminders, err := marshalJSON(c.Reminders)
	if err != nil {
		return 0, err
	}

	var existingID int64
	var existingDesc string
	err = tx.QueryRow(`SELECT id, COALESCE(description, '') FROM calendar_items WHERE account_id = ? AND calendar_id = ? AND uid = ?`,
		c.AccountID, c.CalendarID, c.UID).Scan(&existingID, &existingDesc)

	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(`
			INSERT INTO calendar_items (account_id, calendar_id, provider_event_id, uid, etag, summary,
				description, location, start, end, all_day, timezone, recurrence_rule, recurrence_id,
				organizer_json, attendees_json, status, transparency, reminders_json, needs_reembed, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.AccountID, c.CalendarID, c.ProviderEventID, c.UID, c.ETag, c.Summary, c.Description, c.Location,
			nullTime(c.Start), nullTime(c.End), c.AllDay, c.TimeZone, c.RecurrenceRule, c.RecurrenceID,
			organizer, attendees, string(c.Status), string(c.Transparency), reminders, true, c.SyncedAt)
		if err != nil {
			return 0, models.Fatal("insert calendar item", err)
		}
		return res.LastInsertId()

	case err != nil:
		return 0, models.Fatal("query existing calendar item", err)

	default:
		needsReembed := existingDesc != c.Description
		_, err := tx.Exec(`
			UPDATE calendar_items SET
				provider_event_id = ?, etag = ?, summary = ?, description = ?, location = ?, start = ?,
				end = ?, all_day = ?, timezone = ?, recurrence_rule = ?, recurrence_id = ?, organizer_json = ?,
				attendees_json = ?, status = ?, transparency = ?, reminders_json = ?,
				needs_reembed = needs_reembed OR ?, synced_at = ?
			WHERE id = ?
		`, c.ProviderEventID, c.ETag, c.Summary, c.Description, c.Location, nullTime(c.Start), nullTime(c.End),
			c.AllDay, c.TimeZone, c.RecurrenceRule, c.RecurrenceID, organizer, attendees, string(c.Status),
			string(c.Transparency), reminders, needsReembed, c.SyncedAt, existingID)
		if err != nil {
			return 0, models.Fatal("update calendar item", err)
		}
		return existingID, nil
	}
}

// DeleteCalendarItem removes a calendar item.
func (w *Writer) DeleteCalendarItem(id int64) error {
	tx, err := w.db.Begin()
	if err != nil {
		return models.Fatal("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM calendar_embeddings WHERE calendar_item_id = ?`, id); err != nil {
		return models.Fatal("delete calendar embedding", err)
	}
	if _, err := tx.Exec(`DELETE FROM calendar_items WHERE id = ?`, id); err != nil {
		return models.Fatal("delete calendar item", err)
	}
	if err := bumpGeneration(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertCalendarEmbedding stores a calendar item's embedding vector.
func (w *Writer) UpsertCalendarEmbedding(calendarItemID int64, embedding []float32, model string) error {
	vec, err := serializeEmbedding(embedding)
	if err != nil {
		return err
	}
	tx, err := w.db.Begin()
	if err != nil {
		return models.Fatal("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM calendar_embeddings WHERE calendar_item_id = ?`, calendarItemID); err != nil {
		return models.Fatal("clear calendar embedding", err)
	}
	if _, err := tx.Exec(`INSERT INTO calendar_embeddings (calendar_item_id, embedding) VALUES (?, ?)`, calendarItemID, vec); err != nil {
		return models.Fatal("insert calendar embedding", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO calendar_embedding_meta (calendar_item_id, model) VALUES (?, ?)
		ON CONFLICT(calendar_item_id) DO UPDATE SET model = excluded.model, created_at = CURRENT_TIMESTAMP
	`, calendarItemID, model); err != nil {
		return models.Fatal("upsert calendar embedding meta", err)
	}
	if _, err := tx.Exec(`UPDATE calendar_items SET needs_reembed = 0 WHERE id = ?`, calendarItemID); err != nil {
		return models.Fatal("clear needs_reembed", err)
	}
	return tx.Commit()
}

// PendingMailEmbeddings returns up to limit mail item ids/text flagged
// needs_reembed, for the ingest pipeline's embed stage.
func (w *Writer) PendingMailEmbeddings(limit int) ([]PendingEmbedding, error) {
	rows, err := w.db.Query(`SELECT id, subject || '\n' || body_text FROM mail_items WHERE needs_reembed = 1 LIMIT ?`, limit)
	if err != nil {
		return nil, models.Fatal("query pending mail embeddings", err)
	}
	defer rows.Close()
	return scanPendingEmbeddings(rows)
}

// PendingCalendarEmbeddings returns up to limit calendar item ids/text
// flagged needs_reembed.
func (w *Writer) PendingCalendarEmbeddings(limit int) ([]PendingEmbedding, error) {
	rows, err := w.db.Query(`SELECT id, summary || '\n' || COALESCE(description, '') FROM calendar_items WHERE needs_reembed = 1 LIMIT ?`, limit)
	if err != nil {
		return nil, models.Fatal("query pending calendar embeddings", err)
	}
	defer rows.Close()
	return scanPendingEmbeddings(rows)
}

// PendingEmbedding is one item awaiting an embedding vector.
type PendingEmbedding struct {
	ID   int64
	Text string
}

func scanPendingEmbeddings(rows *sql.Rows) ([]PendingEmbedding, error) {
	var out []PendingEmbedding
	for rows.Next() {
		var p PendingEmbedding
		if err := rows.Scan(&p.ID, &p.Text); err != nil {
			return nil, models.Fatal("scan pending embedding", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
