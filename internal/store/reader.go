package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/jamiequint/groundeffect/internal/models"
)

// Reader is a read-only handle. Any number of Readers may be open against
// the same database file concurrently with the Writer; none of them ever
// acquire SQLite's write lock.
type Reader struct {
	*Store
}

// NewReader opens path for read-only access.
func NewReader(path string) (*Reader, error) {
	s, err := Open(path, false)
	if err != nil {
		return nil, err
	}
	return &Reader{Store: s}, nil
}

// ListAccounts returns every configured account.
func (r *Reader) ListAccounts() ([]models.Account, error) {
	rows, err := r.db.Query(`SELECT email, alias, display_name, status, added_at, last_email_sync,
		last_calendar_sync, email_sync_enabled, calendar_sync_enabled, folder_allowlist, download_attachments
		FROM accounts ORDER BY email`)
	if err != nil {
		return nil, models.Fatal("list accounts", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAccount fetches a single account by canonical email.
func (r *Reader) GetAccount(email string) (models.Account, error) {
	row := r.db.QueryRow(`SELECT email, alias, display_name, status, added_at, last_email_sync,
		last_calendar_sync, email_sync_enabled, calendar_sync_enabled, folder_allowlist, download_attachments
		FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return models.Account{}, models.NotFound("account not found: "+email, err)
	}
	return a, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var a models.Account
	var allowlist string
	var lastEmail, lastCal sql.NullTime
	err := row.Scan(&a.Email, &a.Alias, &a.DisplayName, &a.Status, &a.AddedAt, &lastEmail, &lastCal,
		&a.EmailSyncEnabled, &a.CalendarSyncEnabled, &allowlist, &a.DownloadAttachments)
	if err != nil {
		return models.Account{}, models.Fatal("scan account", err)
	}
	a.LastEmailSync = lastEmail.Time
	a.LastCalendarSync = lastCal.Time
	if err := unmarshalJSON(allowlist, &a.FolderAllowlist); err != nil {
		return models.Account{}, err
	}
	return a, nil
}

// GetMailItem fetches one mail item by row id.
func (r *Reader) GetMailItem(id int64) (models.MailItem, error) {
	row := r.db.QueryRow(mailSelectColumns+` FROM mail_items WHERE id = ?`, id)
	m, err := scanMailItem(row)
	if err == sql.ErrNoRows {
		return models.MailItem{}, models.NotFound("mail item not found", err)
	}
	return m, err
}

// GetMailItemByComposite looks up a mail item by its provider-stable
// (account, folder, uid, uid_validity) key.
func (r *Reader) GetMailItemByComposite(accountID, folder string, uid, uidValidity uint32) (models.MailItem, error) {
	row := r.db.QueryRow(mailSelectColumns+` FROM mail_items WHERE account_id = ? AND folder = ? AND uid = ? AND uid_validity = ?`,
		accountID, folder, uid, uidValidity)
	m, err := scanMailItem(row)
	if err == sql.ErrNoRows {
		return models.MailItem{}, models.NotFound("mail item not found", err)
	}
	return m, err
}

// GetThread returns every mail item sharing a provider thread id, ordered by date.
func (r *Reader) GetThread(accountID string, threadID uint64) ([]models.MailItem, error) {
	rows, err := r.db.Query(mailSelectColumns+` FROM mail_items WHERE account_id = ? AND provider_thread_id = ? ORDER BY date ASC`,
		accountID, threadID)
	if err != nil {
		return nil, models.Fatal("get thread", err)
	}
	defer rows.Close()
	return scanMailItems(rows)
}

// ListFolders returns the distinct folder names an account has mail in.
func (r *Reader) ListFolders(accountID string) ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT folder FROM mail_items WHERE account_id = ? ORDER BY folder`, accountID)
	if err != nil {
		return nil, models.Fatal("list folders", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, models.Fatal("scan folder", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MailFilter narrows a mail search/list to a time range, folder, sender, or
// attachment presence. Zero-value fields are ignored.
type MailFilter struct {
	AccountID      string
	Folder         string
	Since          time.Time
	Until          time.Time
	FromContains   string
	HasAttachment  bool
	Limit          int
}

func (f MailFilter) whereClause() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.AccountID != "" {
		clauses = append(clauses, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Folder != "" {
		clauses = append(clauses, "folder = ?")
		args = append(args, f.Folder)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "date >= ?")
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "date <= ?")
		args = append(args, f.Until)
	}
	if f.FromContains != "" {
		clauses = append(clauses, "from_email LIKE ?")
		args = append(args, "%"+f.FromContains+"%")
	}
	if f.HasAttachment {
		clauses = append(clauses, "attachments_json IS NOT NULL AND attachments_json != ''")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// RankedMailItem pairs a mail item with its fused search score.
type RankedMailItem struct {
	Item  models.MailItem
	Score float64
}

// ListMailItems returns items matching filter ordered by date descending,
// with no keyword or vector ranking. Used for the empty-query search case,
// where there is nothing for BM25 or cosine similarity to rank against.
func (r *Reader) ListMailItems(filter MailFilter) ([]models.MailItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	where, args := filter.whereClause()
	sqlText := mailSelectColumns + ` FROM mail_items WHERE 1=1` + where + ` ORDER BY date DESC LIMIT ?`
	queryArgs := append(args, limit)

	rows, err := r.db.Query(sqlText, queryArgs...)
	if err != nil {
		return nil, models.Fatal("list mail items", err)
	}
	defer rows.Close()
	return scanMailItems(rows)
}

// SearchKeywordMail runs a BM25 full-text query over subject/body/sender,
// joined back to mail_items, narrowed by filter.
func (r *Reader) SearchKeywordMail(query string, filter MailFilter) ([]RankedMailItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	where, args := filter.whereClause()
	sqlText := mailSelectColumnsAliased + `, bm25(mail_fts) AS rank
		FROM mail_items m
		JOIN mail_fts ON mail_fts.rowid = m.id
		WHERE mail_fts MATCH ?` + strings.ReplaceAll(where, "date", "m.date") + `
		ORDER BY rank LIMIT ?
	`
	queryArgs := append([]interface{}{query}, args...)
	queryArgs = append(queryArgs, limit)

	rows, err := r.db.Query(sqlText, queryArgs...)
	if err != nil {
		return nil, models.Fatal("search keyword mail", err)
	}
	defer rows.Close()
	return scanRankedMailItems(rows)
}

// SearchVectorMail runs an ANN query against mail_embeddings and joins back
// to mail_items, narrowed by filter.
func (r *Reader) SearchVectorMail(embedding []float32, filter MailFilter) ([]RankedMailItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	vec, err := serializeEmbedding(embedding)
	if err != nil {
		return nil, err
	}
	where, args := filter.whereClause()
	sqlText := mailSelectColumnsAliased + `, v.distance AS rank
		FROM mail_embeddings v
		JOIN mail_items m ON m.id = v.mail_item_id
		WHERE v.embedding MATCH ? AND k = ?` + strings.ReplaceAll(where, "date", "m.date") + `
		ORDER BY v.distance LIMIT ?
	`
	queryArgs := append([]interface{}{vec, limit}, args...)
	queryArgs = append(queryArgs, limit)

	rows, err := r.db.Query(sqlText, queryArgs...)
	if err != nil {
		return nil, models.Fatal("search vector mail", err)
	}
	defer rows.Close()
	return scanRankedMailItems(rows)
}

const mailSelectColumns = `SELECT id, account_id, provider_msg_id, provider_thread_id, message_id, folder, uid,
	uid_validity, in_reply_to, references_json, labels_json, flags_json, from_name, from_email, to_json,
	cc_json, bcc_json, subject, date, body_text, body_html, snippet, attachments_json, needs_reembed,
	synced_at, raw_size`

const mailSelectColumnsAliased = `SELECT m.id, m.account_id, m.provider_msg_id, m.provider_thread_id, m.message_id,
	m.folder, m.uid, m.uid_validity, m.in_reply_to, m.references_json, m.labels_json, m.flags_json,
	m.from_name, m.from_email, m.to_json, m.cc_json, m.bcc_json, m.subject, m.date, m.body_text,
	m.body_html, m.snippet, m.attachments_json, m.needs_reembed, m.synced_at, m.raw_size`

func scanMailItem(row rowScanner) (models.MailItem, error) {
	var m models.MailItem
	var date, syncedAt sql.NullTime
	var refs, labels, flags, to, cc, bcc, attachments string
	var bodyHTML sql.NullString
	err := row.Scan(&m.ID, &m.AccountID, &m.ProviderMsgID, &m.ProviderThreadID, &m.MessageID, &m.Folder,
		&m.UID, &m.UIDValidity, &m.InReplyTo, &refs, &labels, &flags, &m.From.Name, &m.From.Email, &to,
		&cc, &bcc, &m.Subject, &date, &m.BodyText, &bodyHTML, &m.Snippet, &attachments, &m.NeedsReembed,
		&syncedAt, &m.RawSize)
	if err != nil {
		return models.MailItem{}, err
	}
	m.Date = date.Time
	m.SyncedAt = syncedAt.Time
	m.BodyHTML = bodyHTML.String
	if err := unmarshalJSON(refs, &m.References); err != nil {
		return models.MailItem{}, err
	}
	if err := unmarshalJSON(labels, &m.Labels); err != nil {
		return models.MailItem{}, err
	}
	if err := unmarshalJSON(flags, &m.Flags); err != nil {
		return models.MailItem{}, err
	}
	if err := unmarshalJSON(to, &m.To); err != nil {
		return models.MailItem{}, err
	}
	if err := unmarshalJSON(cc, &m.Cc); err != nil {
		return models.MailItem{}, err
	}
	if err := unmarshalJSON(bcc, &m.Bcc); err != nil {
		return models.MailItem{}, err
	}
	if err := unmarshalJSON(attachments, &m.Attachments); err != nil {
		return models.MailItem{}, err
	}
	return m, nil
}

func scanMailItems(rows *sql.Rows) ([]models.MailItem, error) {
	var out []models.MailItem
	for rows.Next() {
		m, err := scanMailItem(rows)
		if err != nil {
			return nil, models.Fatal("scan mail item", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanRankedMailItems(rows *sql.Rows) ([]RankedMailItem, error) {
	var out []RankedMailItem
	for rows.Next() {
		m, err := scanMailItemWithRank(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMailItemWithRank(rows *sql.Rows) (RankedMailItem, error) {
	var m models.MailItem
	var date, syncedAt sql.NullTime
	var refs, labels, flags, to, cc, bcc, attachments string
	var bodyHTML sql.NullString
	var rank float64
	err := rows.Scan(&m.ID, &m.AccountID, &m.ProviderMsgID, &m.ProviderThreadID, &m.MessageID, &m.Folder,
		&m.UID, &m.UIDValidity, &m.InReplyTo, &refs, &labels, &flags, &m.From.Name, &m.From.Email, &to,
		&cc, &bcc, &m.Subject, &date, &m.BodyText, &bodyHTML, &m.Snippet, &attachments, &m.NeedsReembed,
		&syncedAt, &m.RawSize, &rank)
	if err != nil {
		return RankedMailItem{}, models.Fatal("scan ranked mail item", err)
	}
	m.Date = date.Time
	m.SyncedAt = syncedAt.Time
	m.BodyHTML = bodyHTML.String
	if err := unmarshalJSON(refs, &m.References); err != nil {
		return RankedMailItem{}, err
	}
	if err := unmarshalJSON(labels, &m.Labels); err != nil {
		return RankedMailItem{}, err
	}
	if err := unmarshalJSON(flags, &m.Flags); err != nil {
		return RankedMailItem{}, err
	}
	if err := unmarshalJSON(to, &m.To); err != nil {
		return RankedMailItem{}, err
	}
	if err := unmarshalJSON(cc, &m.Cc); err != nil {
		return RankedMailItem{}, err
	}
	if err := unmarshalJSON(bcc, &m.Bcc); err != nil {
		return RankedMailItem{}, err
	}
	if err := unmarshalJSON(attachments, &m.Attachments); err != nil {
		return RankedMailItem{}, err
	}
	return RankedMailItem{Item: m, Score: rank}, nil
}

// GetCalendarItem fetches one calendar item by row id.
func (r *Reader) GetCalendarItem(id int64) (models.CalendarItem, error) {
	row := r.db.QueryRow(calendarSelectColumns+` FROM calendar_items WHERE id = ?`, id)
	c, err := scanCalendarItem(row)
	if err == sql.ErrNoRows {
		return models.CalendarItem{}, models.NotFound("calendar item not found", err)
	}
	return c, err
}

// GetCalendarItemByComposite looks up an event by (account, calendar, uid).
func (r *Reader) GetCalendarItemByComposite(accountID, calendarID, uid string) (models.CalendarItem, error) {
	row := r.db.QueryRow(calendarSelectColumns+` FROM calendar_items WHERE account_id = ? AND calendar_id = ? AND uid = ?`,
		accountID, calendarID, uid)
	c, err := scanCalendarItem(row)
	if err == sql.ErrNoRows {
		return models.CalendarItem{}, models.NotFound("calendar item not found", err)
	}
	return c, err
}

// ListCalendars returns the distinct calendar ids an account has events in.
func (r *Reader) ListCalendars(accountID string) ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT calendar_id FROM calendar_items WHERE account_id = ? ORDER BY calendar_id`, accountID)
	if err != nil {
		return nil, models.Fatal("list calendars", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, models.Fatal("scan calendar id", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CalendarFilter narrows a calendar search/list to a time window or calendar.
type CalendarFilter struct {
	AccountID  string
	CalendarID string
	From       time.Time
	To         time.Time
	Limit      int
}

func (f CalendarFilter) whereClause() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.AccountID != "" {
		clauses = append(clauses, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.CalendarID != "" {
		clauses = append(clauses, "calendar_id = ?")
		args = append(args, f.CalendarID)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "end >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "start <= ?")
		args = append(args, f.To)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// RankedCalendarItem pairs a calendar item with its fused search score.
type RankedCalendarItem struct {
	Item  models.CalendarItem
	Score float64
}

// ListCalendarItems returns items matching filter ordered by start ascending,
// with no keyword or vector ranking. Used for the empty-query search case.
func (r *Reader) ListCalendarItems(filter CalendarFilter) ([]models.CalendarItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	where, args := filter.whereClause()
	sqlText := calendarSelectColumns + ` FROM calendar_items WHERE 1=1` + where + ` ORDER BY start ASC LIMIT ?`
	queryArgs := append(args, limit)

	rows, err := r.db.Query(sqlText, queryArgs...)
	if err != nil {
		return nil, models.Fatal("list calendar items", err)
	}
	defer rows.Close()
	return scanCalendarItems(rows)
}

// SearchKeywordCalendar runs a BM25 query over summary/description/location.
func (r *Reader) SearchKeywordCalendar(query string, filter CalendarFilter) ([]RankedCalendarItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	where, args := filter.whereClause()
	sqlText := calendarSelectColumnsAliased + `, bm25(calendar_fts) AS rank
		FROM calendar_items c
		JOIN calendar_fts ON calendar_fts.rowid = c.id
		WHERE calendar_fts MATCH ?` + strings.ReplaceAll(where, "start", "c.start") + `
		ORDER BY rank LIMIT ?
	`
	queryArgs := append([]interface{}{query}, args...)
	queryArgs = append(queryArgs, limit)

	rows, err := r.db.Query(sqlText, queryArgs...)
	if err != nil {
		return nil, models.Fatal("search keyword calendar", err)
	}
	defer rows.Close()
	return scanRankedCalendarItems(rows)
}

// SearchVectorCalendar runs an ANN query against calendar_embeddings.
func (r *Reader) SearchVectorCalendar(embedding []float32, filter CalendarFilter) ([]RankedCalendarItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	vec, err := serializeEmbedding(embedding)
	if err != nil {
		return nil, err
	}
	where, args := filter.whereClause()
	sqlText := calendarSelectColumnsAliased + `, v.distance AS rank
		FROM calendar_embeddings v
		JOIN calendar_items c ON c.id = v.calendar_item_id
		WHERE v.embedding MATCH ? AND k = ?` + strings.ReplaceAll(where, "start", "c.start") + `
		ORDER BY v.distance LIMIT ?
	`
	queryArgs := append([]interface{}{vec, limit}, args...)
	queryArgs = append(queryArgs, limit)

	rows, err := r.db.Query(sqlText, queryArgs...)
	if err != nil {
		return nil, models.Fatal("search vector calendar", err)
	}
	defer rows.Close()
	return scanRankedCalendarItems(rows)
}

const calendarSelectColumns = `SELECT id, account_id, calendar_id, provider_event_id, uid, etag, summary,
	description, location, start, end, all_day, timezone, recurrence_rule, recurrence_id, organizer_json,
	attendees_json, status, transparency, reminders_json, needs_reembed, synced_at`

const calendarSelectColumnsAliased = `SELECT c.id, c.account_id, c.calendar_id, c.provider_event_id, c.uid, c.etag,
	c.summary, c.description, c.location, c.start, c.end, c.all_day, c.timezone, c.recurrence_rule,
	c.recurrence_id, c.organizer_json, c.attendees_json, c.status, c.transparency, c.reminders_json,
	c.needs_reembed, c.synced_at`

func scanCalendarItem(row rowScanner) (models.CalendarItem, error) {
	var c models.CalendarItem
	var start, end, syncedAt sql.NullTime
	var organizer, attendees, reminders string
	var description, location sql.NullString
	err := row.Scan(&c.ID, &c.AccountID, &c.CalendarID, &c.ProviderEventID, &c.UID, &c.ETag, &c.Summary,
		&description, &location, &start, &end, &c.AllDay, &c.TimeZone, &c.RecurrenceRule, &c.RecurrenceID,
		&organizer, &attendees, &c.Status, &c.Transparency, &reminders, &c.NeedsReembed, &syncedAt)
	if err != nil {
		return models.CalendarItem{}, err
	}
	c.Description = description.String
	c.Location = location.String
	c.Start = start.Time
	c.End = end.Time
	c.SyncedAt = syncedAt.Time
	if err := unmarshalJSON(organizer, &c.Organizer); err != nil {
		return models.CalendarItem{}, err
	}
	if err := unmarshalJSON(attendees, &c.Attendees); err != nil {
		return models.CalendarItem{}, err
	}
	if err := unmarshalJSON(reminders, &c.Reminders); err != nil {
		return models.CalendarItem{}, err
	}
	return c, nil
}

func scanCalendarItems(rows *sql.Rows) ([]models.CalendarItem, error) {
	var out []models.CalendarItem
	for rows.Next() {
		c, err := scanCalendarItem(rows)
		if err != nil {
			return nil, models.Fatal("scan calendar item", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanRankedCalendarItems(rows *sql.Rows) ([]RankedCalendarItem, error) {
	var out []RankedCalendarItem
	for rows.Next() {
		var c models.CalendarItem
		var start, end, syncedAt sql.NullTime
		var organizer, attendees, reminders string
		var description, location sql.NullString
		var rank float64
		err := rows.Scan(&c.ID, &c.AccountID, &c.CalendarID, &c.ProviderEventID, &c.UID, &c.ETag, &c.Summary,
			&description, &location, &start, &end, &c.AllDay, &c.TimeZone, &c.RecurrenceRule, &c.RecurrenceID,
			&organizer, &attendees, &c.Status, &c.Transparency, &reminders, &c.NeedsReembed, &syncedAt, &rank)
		if err != nil {
			return nil, models.Fatal("scan ranked calendar item", err)
		}
		c.Description = description.String
		c.Location = location.String
		c.Start = start.Time
		c.End = end.Time
		c.SyncedAt = syncedAt.Time
		if err := unmarshalJSON(organizer, &c.Organizer); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(attendees, &c.Attendees); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(reminders, &c.Reminders); err != nil {
			return nil, err
		}
		out = append(out, RankedCalendarItem{Item: c, Score: rank})
	}
	return out, rows.Err()
}
